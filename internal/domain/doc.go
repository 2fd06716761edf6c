// Package domain contains the core value types and error conditions for
// the dcpipe feature extraction pipeline.
//
// This is the innermost layer: it has no dependencies on storage,
// concurrency or logging concerns and describes only the data that flows
// between the segmentation, extraction and writing stages.
//
// # Entities
//
//   - [WorkItem]: one (chunk, frame) unit handed to an extraction worker
//   - [EventBatch]: the gated per-frame feature columns produced by a worker
package domain
