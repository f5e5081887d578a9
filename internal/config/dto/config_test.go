package dto

import (
	"testing"
)

func TestApplicationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ApplicationConfig
		wantErr bool
	}{
		{
			name: "kafka source",
			config: ApplicationConfig{
				Application: ApplicationInfo{Name: "kafsource"},
				Source:      SourceConfig{Kafka: KafkaSourceConfig{Enabled: true}},
				Sink:        SinkConfig{Type: "kafka"},
			},
			wantErr: false,
		},
		{
			name: "ingest source",
			config: ApplicationConfig{
				Application: ApplicationInfo{Name: "kafsource"},
				Ingest:      IngestConfig{Enabled: true},
				Sink:        SinkConfig{Type: "archive"},
			},
			wantErr: false,
		},
		{
			name: "missing name",
			config: ApplicationConfig{
				Ingest: IngestConfig{Enabled: true},
				Sink:   SinkConfig{Type: "kafka"},
			},
			wantErr: true,
		},
		{
			name: "no source",
			config: ApplicationConfig{
				Application: ApplicationInfo{Name: "kafsource"},
				Sink:        SinkConfig{Type: "kafka"},
			},
			wantErr: true,
		},
		{
			name: "missing sink",
			config: ApplicationConfig{
				Application: ApplicationInfo{Name: "kafsource"},
				Ingest:      IngestConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKafkaSourceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  KafkaSourceConfig
		wantErr bool
	}{
		{"valid", KafkaSourceConfig{GroupID: "g", Topics: []string{"a", "b"}}, false},
		{"missing group", KafkaSourceConfig{Topics: []string{"a"}}, true},
		{"missing topics", KafkaSourceConfig{GroupID: "g"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  WriteRateLimitConfig
		wantErr bool
	}{
		{"disabled ignores values", WriteRateLimitConfig{Enabled: false, RecordsPerSecond: -1}, false},
		{"valid", WriteRateLimitConfig{Enabled: true, RecordsPerSecond: 100, Burst: 10}, false},
		{"zero rate", WriteRateLimitConfig{Enabled: true, Burst: 10}, true},
		{"zero burst", WriteRateLimitConfig{Enabled: true, RecordsPerSecond: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestS3Config(t *testing.T) {
	config := S3Config{Bucket: "my-bucket", Region: "us-west-2", SSEEnabled: true}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	config.Region = ""
	if err := config.Validate(); err == nil {
		t.Error("expected error for missing region")
	}
}

func TestAzureConfig(t *testing.T) {
	config := AzureConfig{AccountName: "account", Container: "records"}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	config.Container = ""
	if err := config.Validate(); err == nil {
		t.Error("expected error for missing container")
	}
}

func TestGCSConfig(t *testing.T) {
	config := GCSConfig{}
	if err := config.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}

	config.Bucket = "records"
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFileConfig(t *testing.T) {
	config := FileConfig{}
	if err := config.Validate(); err == nil {
		t.Error("expected error for missing base path")
	}

	config.BasePath = "/var/lib/kafsource"
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
