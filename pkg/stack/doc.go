// Package stack provides cache-bounded access to large, chunked image
// stacks stored on disk.
//
// Deformability cytometry measurements store image stacks in chunked,
// often compressed datasets. Loading a single frame forces the whole
// containing chunk to be read and decoded, so random single-frame
// access is prohibitively slow without a cache. [ChunkCache] keeps a
// bounded number of materialized chunks in memory, which makes
// single-frame lookups fast for the mostly-sequential access patterns
// of a segmentation and extraction sweep. [CorrectedCache] layers
// lazily computed background-corrected chunks on top of two such
// caches.
//
// Caches are not safe for concurrent use; every worker owns its own
// instances.
package stack
