package kafka

import (
	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramClient adapts an xdg-go SCRAM conversation to sarama.SCRAMClient.
// Sarama asks for a new one per broker connection.
type scramClient struct {
	hashGen      scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}

// scramClientGenerator returns a client factory for a SCRAM mechanism name.
// Anything other than SCRAM-SHA-512 uses SHA-256.
func scramClientGenerator(mechanism string) func() sarama.SCRAMClient {
	hashGen := scram.SHA256
	if mechanism == string(sarama.SASLTypeSCRAMSHA512) {
		hashGen = scram.SHA512
	}
	return func() sarama.SCRAMClient {
		return &scramClient{hashGen: hashGen}
	}
}
