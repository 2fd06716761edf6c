// Package ports defines the interfaces that connect the pipeline core
// to infrastructure adapters.
//
// The application layer (internal/app) depends only on these
// interfaces. Adapters (internal/adapters) implement them with concrete
// implementations (stack files on disk, NDJSON event output, zerolog).
//
// # Port Interfaces
//
//   - [ImageSource]: slice-based random access to a chunked image stack
//   - [BackgroundSink]: slice writes into a resizable background store
//   - [EventSink]: consumes gated per-frame event batches
//   - [Segmenter]: turns corrected frames into label images
//   - [Gate]: mask-level and feature-level accept predicates
//   - [Logger]: structured logging abstraction
package ports
