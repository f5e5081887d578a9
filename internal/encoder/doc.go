// Package encoder provides record encoding to analytics file formats.
//
// Encoders turn drained record batches into files for the archive sink.
//
// # Supported Formats
//
//   - Parquet: Columnar format optimized for analytics and Athena queries
//   - Avro: Row-based OCF files with embedded schema
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(record.FormatParquet, "snappy")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    return err
//	}
//
//	stats, err := enc.Encode(filePath, records)
//
// # Schema
//
// Both formats store the destination topic and partition, key, value,
// headers (as an ordered JSON array), event time, the source position the
// record was read from, and the archive time. Record keys and values are
// stored as raw bytes.
//
// # Compression Options
//
//	Parquet: "snappy" (default), "gzip", "lz4", "zstd", "none"
//	Avro:    "gzip" (default, whole file), "none"
//
// # Thread Safety
//
// Encoder instances hold no per-call state and are safe for concurrent use.
package encoder
