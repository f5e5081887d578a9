package encoder

import (
	"encoding/json"
	"fmt"

	"github.com/jittakal/kafsource/pkg/record"
)

type headerJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// headersToJSON serialises headers as an ordered JSON array so duplicates survive.
func headersToJSON(headers []record.Header) (string, error) {
	if len(headers) == 0 {
		return "[]", nil
	}
	out := make([]headerJSON, len(headers))
	for i, h := range headers {
		out[i] = headerJSON{Key: h.Key, Value: string(h.Value)}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal headers: %w", err)
	}
	return string(b), nil
}
