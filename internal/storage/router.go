package storage

import (
	"fmt"
	"time"

	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// DefaultRouter implements Hive-style partitioning for storage paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
	version  string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath, version string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: basePath,
		version:  version,
	}
}

// Route returns the storage directory for a partition at the given event time.
// Format: protocol://bucket/basePath/topic/version/dt=YYYY-MM-DD/pid=N/
// Records without a routing partition land under pid=unassigned.
func (r *DefaultRouter) Route(partitionID record.PartitionID, eventTime time.Time) string {
	pid := fmt.Sprintf("%d", partitionID.Partition)
	if partitionID.Partition == record.UnassignedPartition {
		pid = "unassigned"
	}

	return fmt.Sprintf("%s://%s/%s/%s/%s/dt=%s/pid=%s/",
		r.protocol,
		r.bucket,
		r.basePath,
		partitionID.Topic,
		r.version,
		eventTime.UTC().Format("2006-01-02"),
		pid,
	)
}

// PolicyConfig configures rotation behavior.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
}

// CompositePolicy rotates when any configured limit is reached.
// Zero limits are disabled.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
}

// NewCompositePolicy creates a new composite rotation policy.
func NewCompositePolicy(config PolicyConfig) *CompositePolicy {
	return &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
	}
}

// ShouldRotate returns true if any rotation condition is met.
// The duration limit applies to the event time span covered by the file.
func (p *CompositePolicy) ShouldRotate(stats record.FileStats) bool {
	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}

	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}

	if p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() && !stats.LastWriteTime.IsZero() {
		if stats.LastWriteTime.Sub(stats.FirstWriteTime) >= p.maxDuration {
			return true
		}
	}

	return false
}
