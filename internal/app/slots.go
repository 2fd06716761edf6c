package app

import (
	"context"
	"sync"
)

// slotState tags the owner of a pipeline slot.
type slotState int

const (
	// slotSegment: owned by the segmenter, awaiting label data.
	slotSegment slotState = iota
	// slotExtract: labels deposited, ready for the coordinator.
	slotExtract
	// slotWorking: claimed by the coordinator, extraction in flight.
	slotWorking
)

// slot is one reusable handoff buffer between the segmenter and the
// extraction side. Its buffers are allocated once and live for the
// whole run.
type slot struct {
	state   slotState
	chunk   int
	nframes int
	labels  []int16 // chunkSize * height * width
	counts  []int   // label count per frame
}

// slotTable coordinates slot ownership between the single segmenter
// goroutine and the single coordinator goroutine. Ownership alternates
// strictly; a slot is never writable by both sides at once.
type slotTable struct {
	mu          sync.Mutex
	cond        *sync.Cond
	slots       []*slot
	lastClaimed int
}

func newSlotTable(numSlots, chunkSize, npix int) *slotTable {
	t := &slotTable{
		slots:       make([]*slot, numSlots),
		lastClaimed: numSlots - 1,
	}
	t.cond = sync.NewCond(&t.mu)
	for i := range t.slots {
		t.slots[i] = &slot{
			labels: make([]int16, chunkSize*npix),
			counts: make([]int, chunkSize),
		}
	}
	return t
}

// wake breaks waiters out of their cond wait so they can observe
// context cancellation. The pipeline arranges a call on ctx.Done().
func (t *slotTable) wake() {
	t.cond.Broadcast()
}

// acquireFree blocks until a slot is owned by the segmenter side and
// returns it. Only the segmenter goroutine calls this.
func (t *slotTable) acquireFree(ctx context.Context) (*slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range t.slots {
			if s.state == slotSegment {
				return s, nil
			}
		}
		t.cond.Wait()
	}
}

// deposit publishes a labeled chunk: the slot moves to the extraction
// side and the coordinator is signalled.
func (t *slotTable) deposit(s *slot, chunk, nframes int) {
	t.mu.Lock()
	s.chunk = chunk
	s.nframes = nframes
	s.state = slotExtract
	t.mu.Unlock()
	t.cond.Broadcast()
}

// claim blocks until a slot holds deposited labels and claims it for
// extraction. The scan is round-robin starting after the last claimed
// slot so no slot is starved. Only the coordinator goroutine calls
// this.
func (t *slotTable) claim(ctx context.Context) (*slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := len(t.slots)
		for k := 1; k <= n; k++ {
			i := (t.lastClaimed + k) % n
			if t.slots[i].state == slotExtract {
				t.slots[i].state = slotWorking
				t.lastClaimed = i
				return t.slots[i], nil
			}
		}
		t.cond.Wait()
	}
}

// release returns a drained slot to the segmenter side.
func (t *slotTable) release(s *slot) {
	t.mu.Lock()
	s.state = slotSegment
	t.mu.Unlock()
	t.cond.Broadcast()
}
