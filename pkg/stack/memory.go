package stack

// MemorySource is an in-memory Source, used by tests and by the
// background estimator's scratch stacks.
type MemorySource struct {
	Pixels []uint8 // count*height*width
	Height int
	Width  int

	// TimesSec, when non-nil, provides a recorded per-frame time axis.
	TimesSec []float64

	// Rate, when positive, is the acquisition frame rate in Hz.
	Rate float64
}

// NewMemorySource wraps a flat pixel array as a Source.
func NewMemorySource(pixels []uint8, height, width int) *MemorySource {
	return &MemorySource{Pixels: pixels, Height: height, Width: width}
}

// Len returns the number of frames.
func (m *MemorySource) Len() int {
	if m.Height*m.Width == 0 {
		return 0
	}
	return len(m.Pixels) / (m.Height * m.Width)
}

// FrameShape returns the height and width of one frame.
func (m *MemorySource) FrameShape() (int, int) { return m.Height, m.Width }

// ReadFrames returns the pixels of frames [start, stop).
func (m *MemorySource) ReadFrames(start, stop int) ([]uint8, error) {
	fl := m.Height * m.Width
	out := make([]uint8, (stop-start)*fl)
	copy(out, m.Pixels[start*fl:stop*fl])
	return out, nil
}

// Times returns the recorded time axis, or nil if none was set.
func (m *MemorySource) Times() []float64 { return m.TimesSec }

// FrameRate returns the configured frame rate (0 when unknown).
func (m *MemorySource) FrameRate() float64 { return m.Rate }
