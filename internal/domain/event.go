package domain

// WorkItem is the unit of work distributed to extraction workers: one
// frame within a chunk. It is consumed exactly once.
//
// Labels points into the coordinator's label arena. The view stays
// valid until the chunk's extraction barrier is passed, which the
// coordinator guarantees before reusing the arena.
type WorkItem struct {
	Chunk     int
	Index     int // frame index within the chunk
	Frame     int // global frame index
	Labels    []int16
	NumLabels int
}

// EventBatch holds the surviving per-event feature columns of one frame.
// Every column has Count entries. A batch with Count == 0 still gets
// emitted so the writer observes exactly one batch per dispatched frame.
type EventBatch struct {
	Frame    int
	Count    int
	Features map[string][]float64
}
