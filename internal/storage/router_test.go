package storage

import (
	"testing"
	"time"

	"github.com/jittakal/kafsource/pkg/record"
)

func TestNewRouter(t *testing.T) {
	router := NewRouter("s3", "my-bucket", "records", "v1")

	if router.protocol != "s3" {
		t.Errorf("protocol = %v, want s3", router.protocol)
	}
	if router.bucket != "my-bucket" {
		t.Errorf("bucket = %v, want my-bucket", router.bucket)
	}
	if router.basePath != "records" {
		t.Errorf("basePath = %v, want records", router.basePath)
	}
	if router.version != "v1" {
		t.Errorf("version = %v, want v1", router.version)
	}
}

func TestDefaultRouter_Route(t *testing.T) {
	router := NewRouter("s3", "test-bucket", "base", "v1")
	eventTime := time.Date(2025, 12, 18, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))

	tests := []struct {
		name        string
		partitionID record.PartitionID
		want        string
	}{
		{
			name:        "assigned partition",
			partitionID: record.PartitionID{Topic: "test-topic", Partition: 3},
			want:        "s3://test-bucket/base/test-topic/v1/dt=2025-12-19/pid=3/",
		},
		{
			name:        "unassigned partition",
			partitionID: record.PartitionID{Topic: "test-topic", Partition: record.UnassignedPartition},
			want:        "s3://test-bucket/base/test-topic/v1/dt=2025-12-19/pid=unassigned/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := router.Route(tt.partitionID, eventTime); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompositePolicy_ShouldRotate(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		config PolicyConfig
		stats  record.FileStats
		want   bool
	}{
		{
			name:   "size limit reached",
			config: PolicyConfig{MaxFileSizeMB: 1},
			stats:  record.FileStats{SizeBytes: 1024 * 1024},
			want:   true,
		},
		{
			name:   "size limit not reached",
			config: PolicyConfig{MaxFileSizeMB: 1},
			stats:  record.FileStats{SizeBytes: 1024},
			want:   false,
		},
		{
			name:   "count limit reached",
			config: PolicyConfig{MaxRecordsPerFile: 10},
			stats:  record.FileStats{RecordCount: 10},
			want:   true,
		},
		{
			name:   "event time span reached",
			config: PolicyConfig{MaxDurationSeconds: 60},
			stats:  record.FileStats{RecordCount: 2, FirstWriteTime: base, LastWriteTime: base.Add(time.Minute)},
			want:   true,
		},
		{
			name:   "event time span not reached",
			config: PolicyConfig{MaxDurationSeconds: 60},
			stats:  record.FileStats{RecordCount: 2, FirstWriteTime: base, LastWriteTime: base.Add(30 * time.Second)},
			want:   false,
		},
		{
			name:   "all limits disabled",
			config: PolicyConfig{},
			stats:  record.FileStats{RecordCount: 1_000_000, SizeBytes: 1 << 40},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewCompositePolicy(tt.config).ShouldRotate(tt.stats); got != tt.want {
				t.Errorf("ShouldRotate() = %v, want %v", got, tt.want)
			}
		})
	}
}
