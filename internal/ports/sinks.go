package ports

import "github.com/cytolabs/dcpipe/internal/domain"

// BackgroundSink accepts slice writes of synthesized background frames.
// The estimator writes in fixed-size row batches to bound peak memory;
// the sink must grow as needed.
type BackgroundSink interface {
	// WriteFrames stores frames[0..n) at stack positions start..start+n.
	// frames is a flat array of n*height*width uint8 pixels.
	WriteFrames(start int, frames []uint8) error

	Close() error
}

// EventSink consumes the gated per-frame event batches emitted by the
// extraction workers. Batches arrive in no particular frame order;
// implementations must index by EventBatch.Frame, not arrival order.
type EventSink interface {
	WriteBatch(batch domain.EventBatch) error
	Close() error
}
