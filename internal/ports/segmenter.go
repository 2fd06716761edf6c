package ports

// Segmenter produces label images from background-corrected frames.
//
// SegmentFrame fills labels (height*width int16 values, 0 background,
// positive integers per object) from the corrected frame and returns
// the number of labels assigned.
type Segmenter interface {
	SegmentFrame(corr []int16, labels []int16) int

	// ID returns the segmenter's pipeline identifier (code:params...).
	ID() string
}

// Gate exposes the accept predicates used during extraction.
type Gate interface {
	// GateMask is the object-level accept test using only the mask.
	GateMask(mask []bool, maskSum int) bool

	// GateEvents is the feature-level accept test over a whole batch.
	// It returns one keep flag per event.
	GateEvents(events map[string][]float64) []bool

	// HasBoxGates reports whether any feature-level gates are configured.
	HasBoxGates() bool

	// ID returns the gate's pipeline identifier.
	ID() string
}
