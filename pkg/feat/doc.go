// Package feat computes per-event features from segmented masks:
// moment-based geometry, brightness statistics over raw and
// background-corrected pixel values, and Haralick texture measures
// from grey-level co-occurrence matrices.
//
// All feature functions take a batch of boolean masks belonging to one
// frame and return named feature columns with one value per mask. The
// moment features include the mandatory "valid" column (1/0); events
// flagged invalid are dropped by the pipeline downstream. Degenerate
// moment tensors (lines, single pixels) stay valid and carry NaN
// aspect and tilt instead.
package feat
