package ports

import "github.com/cytolabs/dcpipe/pkg/stack"

// ImageSource provides slice-based random access to an on-disk image
// stack. It is consumed exclusively through slice reads by the chunk
// caches in pkg/stack; the alias keeps the adapter packages on the
// ports boundary.
type ImageSource = stack.Source

// TimedSource is implemented by sources that record a per-frame time
// axis. The background estimator prefers recorded times over the
// frame-rate estimate.
type TimedSource interface {
	// Times returns one timestamp in seconds per frame.
	Times() []float64
}

// RatedSource is implemented by sources that know the acquisition
// frame rate (frames per second).
type RatedSource interface {
	FrameRate() float64
}
