package stack

import "fmt"

// Source is the slice-read contract a disk-backed image stack has to
// offer. The caches consume it exclusively through ReadFrames.
type Source interface {
	// Len returns the number of frames in the stack.
	Len() int

	// FrameShape returns the height and width of one frame.
	FrameShape() (height, width int)

	// ReadFrames returns the pixels of frames [start, stop) as one flat
	// array of (stop-start)*height*width uint8 values.
	ReadFrames(start, stop int) ([]uint8, error)
}

// BoundsError reports an out-of-range frame or chunk access on a named
// cache. Accesses past the end are never silently clamped.
type BoundsError struct {
	Cache  string
	Index  int
	Length int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds for %s of length %d",
		e.Index, e.Cache, e.Length)
}
