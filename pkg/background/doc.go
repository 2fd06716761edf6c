// Package background computes sparse-median background images for
// chunked image stacks.
//
// Instead of a rolling median over every frame, the estimator computes
// one background image per splitTime seconds of recording, each as the
// pixelwise median over a kernelSize-frame window around that
// timestamp. The resulting background series is cleansed of images
// contaminated by event data (streaks of cells surviving the median),
// and every frame is then assigned the surviving background image
// nearest to it in time. Median computation is parallelized blockwise
// over the flattened pixel axis across a fixed worker pool.
package background
