package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cytolabs/dcpipe/internal/domain"
	"github.com/cytolabs/dcpipe/internal/ports"
	"github.com/cytolabs/dcpipe/pkg/gate"
	"github.com/cytolabs/dcpipe/pkg/log"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

// memEventSink collects batches for assertions.
type memEventSink struct {
	mu      sync.Mutex
	batches []domain.EventBatch
}

func (s *memEventSink) WriteBatch(b domain.EventBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func (s *memEventSink) Close() error { return nil }

func (s *memEventSink) sorted() []domain.EventBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.EventBatch{}, s.batches...)
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// failingSink errors on the first write.
type failingSink struct{}

func (failingSink) WriteBatch(domain.EventBatch) error { return errors.New("disk full") }
func (failingSink) Close() error                       { return nil }

// blockingSink holds every write until released.
type blockingSink struct{ release chan struct{} }

func (s *blockingSink) WriteBatch(domain.EventBatch) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }

// stubSegmenter labels frames through a callback. The segmenter runs
// in a single goroutine, so counting calls yields the frame index.
type stubSegmenter struct {
	calls int
	fn    func(frame int, labels []int16) int
}

func (s *stubSegmenter) SegmentFrame(corr []int16, labels []int16) int {
	frame := s.calls
	s.calls++
	for i := range labels {
		labels[i] = 0
	}
	return s.fn(frame, labels)
}

func (s *stubSegmenter) ID() string { return "thresh:t=-6:cle=1^f=1^clo=2" }

// panicGate panics on a specific mask size to simulate a crashing
// feature extraction.
type panicGate struct {
	ports.Gate
	panicSum int
}

func (g panicGate) GateMask(mask []bool, sum int) bool {
	if sum == g.panicSum {
		panic("injected mask failure")
	}
	return g.Gate.GateMask(mask, sum)
}

// constStack builds a MemorySource whose frame f is filled with
// value(f).
func constStack(count, h, w int, value func(f int) uint8) *stack.MemorySource {
	pixels := make([]uint8, count*h*w)
	for f := 0; f < count; f++ {
		for p := 0; p < h*w; p++ {
			pixels[f*h*w+p] = value(f)
		}
	}
	return &stack.MemorySource{Pixels: pixels, Height: h, Width: w}
}

func TestPipelineThreeFrameEndToEnd(t *testing.T) {
	// Each frame carries one two-pixel label and one zero-pixel label.
	// The zero-pixel label yields no mask, the two-pixel label passes
	// the mask gate, and every frame ends up with exactly one event.
	const count, h, w = 3, 4, 4
	src := constStack(count, h, w, func(f int) uint8 { return uint8(50 + 10*f) })
	bg := constStack(count, h, w, func(int) uint8 { return 0 })
	sink := &memEventSink{}

	seg := &stubSegmenter{fn: func(frame int, labels []int16) int {
		labels[5] = 1
		labels[6] = 1
		return 2 // label 2 never appears in the image
	}}
	g := gate.New(gate.WithSizeThreshMask(1))

	p, err := New(Config{
		ChunkSize:  2,
		NumSlots:   2,
		NumWorkers: 2,
		PixelSize:  1,
		Brightness: true,
	}, src, bg, sink, seg, g, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	batches := sink.sorted()
	if len(batches) != count {
		t.Fatalf("got %d batches, want %d", len(batches), count)
	}
	for f, b := range batches {
		if b.Frame != f || b.Count != 1 {
			t.Fatalf("frame %d: batch {frame=%d count=%d}, want one event", f, b.Frame, b.Count)
		}
		if got := b.Features["area_msd"][0]; got != 2 {
			t.Fatalf("frame %d: area_msd = %v, want 2", f, got)
		}
		if got := b.Features["bright_avg"][0]; got != float64(50+10*f) {
			t.Fatalf("frame %d: bright_avg = %v, want %d", f, got, 50+10*f)
		}
		if _, ok := b.Features["valid"]; ok {
			t.Fatal("valid column must not leak into the output")
		}
	}
	for f, n := range p.EventCounts() {
		if n != 1 {
			t.Fatalf("event count for frame %d = %d, want 1", f, n)
		}
	}
	if p.InvalidMasks() != 0 {
		t.Fatalf("invalid masks = %d, want 0", p.InvalidMasks())
	}
}

func TestPipelineSkipsDuplicateFrames(t *testing.T) {
	// Frames 0 and 1 are bit-identical; frame 1 must yield zero
	// events without running extraction.
	const count, h, w = 4, 5, 5
	values := []uint8{10, 10, 30, 40}
	src := constStack(count, h, w, func(f int) uint8 { return values[f] })
	bg := constStack(count, h, w, func(int) uint8 { return 0 })
	sink := &memEventSink{}

	seg := &stubSegmenter{fn: func(frame int, labels []int16) int {
		for i := 0; i < 12; i++ {
			labels[i] = 1
		}
		return 1
	}}

	p, err := New(Config{ChunkSize: 2, NumWorkers: 2, PixelSize: 1},
		src, bg, sink, seg, gate.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int64{1, 0, 1, 1}
	for f, n := range p.EventCounts() {
		if n != want[f] {
			t.Fatalf("event counts = %v, want %v", p.EventCounts(), want)
		}
	}
	if len(sink.sorted()) != count {
		t.Fatalf("got %d batches, want one per frame", len(sink.sorted()))
	}
}

func TestPipelineWorkerPanicDoesNotStallBarrier(t *testing.T) {
	// Frame 1 panics inside the worker. The run must still complete,
	// and the frame's count entry keeps its -1 sentinel.
	const count, h, w = 3, 5, 5
	src := constStack(count, h, w, func(f int) uint8 { return uint8(10 * (f + 1)) })
	bg := constStack(count, h, w, func(int) uint8 { return 0 })
	sink := &memEventSink{}

	seg := &stubSegmenter{fn: func(frame int, labels []int16) int {
		n := 12
		if frame == 1 {
			n = 7
		}
		for i := 0; i < n; i++ {
			labels[i] = 1
		}
		return 1
	}}
	g := panicGate{Gate: gate.New(), panicSum: 7}

	p, err := New(Config{ChunkSize: 2, NumWorkers: 2, PixelSize: 1},
		src, bg, sink, seg, g, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline stalled on a panicked work item")
	}

	counts := p.EventCounts()
	if counts[0] != 1 || counts[1] != -1 || counts[2] != 1 {
		t.Fatalf("event counts = %v, want [1 -1 1]", counts)
	}
	if len(sink.sorted()) != 2 {
		t.Fatalf("got %d batches, want 2 (failed frame publishes none)", len(sink.sorted()))
	}
}

func TestPipelineSinkErrorFailsRun(t *testing.T) {
	const count, h, w = 2, 4, 4
	src := constStack(count, h, w, func(f int) uint8 { return uint8(f + 1) })
	bg := constStack(count, h, w, func(int) uint8 { return 0 })

	seg := &stubSegmenter{fn: func(frame int, labels []int16) int {
		for i := 0; i < 12; i++ {
			labels[i] = 1
		}
		return 1
	}}

	p, err := New(Config{ChunkSize: 2, NumWorkers: 1, PixelSize: 1},
		src, bg, failingSink{}, seg, gate.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "event sink") {
		t.Fatalf("Run = %v, want event sink error", err)
	}
}

func TestPipelineStartStopLifecycle(t *testing.T) {
	const count, h, w = 2, 4, 4
	src := constStack(count, h, w, func(f int) uint8 { return uint8(f + 1) })
	bg := constStack(count, h, w, func(int) uint8 { return 0 })
	sink := &blockingSink{release: make(chan struct{})}

	seg := &stubSegmenter{fn: func(frame int, labels []int16) int {
		for i := 0; i < 12; i++ {
			labels[i] = 1
		}
		return 1
	}}

	p, err := New(Config{ChunkSize: 2, NumWorkers: 1, PixelSize: 1},
		src, bg, sink, seg, gate.New(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("Stop before Start = %v, want ErrNotRunning", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, p, StateRunning)

	if err := p.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	close(sink.release)
	waitForState(t, p, StateStopped)
}

func waitForState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline never reached state %v (now %v)", want, p.Status())
}

func TestNewRejectsMismatchedInputs(t *testing.T) {
	src := constStack(3, 4, 4, func(int) uint8 { return 0 })
	seg := &stubSegmenter{fn: func(int, []int16) int { return 0 }}

	bgShape := constStack(3, 4, 5, func(int) uint8 { return 0 })
	if _, err := New(Config{}, src, bgShape, &memEventSink{}, seg, gate.New(), nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("shape mismatch: err = %v, want ErrInvalidConfig", err)
	}

	bgCount := constStack(2, 4, 4, func(int) uint8 { return 0 })
	if _, err := New(Config{}, src, bgCount, &memEventSink{}, seg, gate.New(), nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("count mismatch: err = %v, want ErrInvalidConfig", err)
	}
}

func TestReportInvalidWarnsAboveThreshold(t *testing.T) {
	rec := &recordLogger{}
	p := &Pipeline{logger: rec}
	p.invalid.Store(1)
	p.reportInvalid(100) // 1% > 0.5%
	if len(rec.warns) != 1 {
		t.Fatalf("got %d warnings, want 1", len(rec.warns))
	}

	rec = &recordLogger{}
	p = &Pipeline{logger: rec}
	p.reportInvalid(100)
	if len(rec.warns) != 0 {
		t.Fatalf("got %d warnings, want none", len(rec.warns))
	}
}

func TestStallOnBackpressure(t *testing.T) {
	p := &Pipeline{
		eventCh: make(chan domain.EventBatch, eventQueueCap),
		logger:  log.NewNoopLogger(),
	}

	// Shallow queue: no stall.
	start := time.Now()
	if err := p.stallOnBackpressure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("stalled on a shallow queue")
	}

	// Deep queue with a cancelled context: returns promptly with the
	// context error instead of sleeping out the stall.
	for i := 0; i < backpressureDepth+50; i++ {
		p.eventCh <- domain.EventBatch{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.stallOnBackpressure(ctx); err != context.Canceled {
		t.Fatalf("stall error = %v, want context.Canceled", err)
	}
}

// recordLogger captures log messages for assertions.
type recordLogger struct {
	mu    sync.Mutex
	warns []string
}

func (r *recordLogger) Debug(string, ...log.Field) {}
func (r *recordLogger) Info(string, ...log.Field)  {}
func (r *recordLogger) Warn(msg string, _ ...log.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}
func (r *recordLogger) Error(string, ...log.Field) {}
