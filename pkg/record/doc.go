// Package record defines the opaque record value that flows through kafsource.
//
// # Record Structure
//
// A Record carries a destination topic, an optional destination partition,
// key, value, ordered headers and a timestamp, plus metadata describing
// where it was read from:
//
//	rec := record.Record{
//	    ID:        uuid.NewString(),
//	    Topic:     "orders.mirror",
//	    Partition: record.Int32(3),
//	    Key:       []byte("order-42"),
//	    Value:     []byte(`{"amount": 10}`),
//	    Timestamp: time.Now(),
//	    Source: record.SourceMetadata{
//	        Origin:    record.OriginKafka,
//	        Topic:     "orders",
//	        Partition: 3,
//	        Offset:    1200,
//	    },
//	}
//
// Records are treated as immutable once handed to a buffer.
//
// # Partition Identification
//
// PartitionID identifies a destination topic partition. Records without a
// routing partition report UnassignedPartition:
//
//	pid := rec.PartitionID()
//	key := pid.String() // "orders.mirror-3"
//
// # File Formats
//
//	record.FormatParquet  // Columnar format for analytics
//	record.FormatAvro     // Row-based format with schema
package record
