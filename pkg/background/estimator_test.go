package background

import (
	"context"
	"math"
	"testing"

	"github.com/cytolabs/dcpipe/pkg/log"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

// memSink collects background frames written by the estimator.
type memSink struct {
	frames []uint8
	writes int
}

func (s *memSink) WriteFrames(start int, frames []uint8) error {
	s.frames = append(s.frames, frames...)
	s.writes++
	return nil
}

// recordLogger captures log messages for assertions.
type recordLogger struct {
	warns []string
	infos []string
}

func (r *recordLogger) Debug(string, ...log.Field) {}
func (r *recordLogger) Info(msg string, _ ...log.Field) {
	r.infos = append(r.infos, msg)
}
func (r *recordLogger) Warn(msg string, _ ...log.Field) {
	r.warns = append(r.warns, msg)
}
func (r *recordLogger) Error(string, ...log.Field) {}

func TestProcessMedianSeries(t *testing.T) {
	// Ten 4x3 frames, frame f holding the constant value 10*f, with
	// recorded timestamps 0.8*f. With splitTime 3 the series has
	// entries at t=0, 3 and 6, whose kernel windows of three frames
	// yield the medians 10, 50 and 80. The assignment boundaries put
	// frames 0-1 on the first entry, 2-5 on the second, and the rest,
	// including the frames past the last boundary, on the third.
	const h, w, count = 4, 3, 10
	pixels := make([]uint8, count*h*w)
	times := make([]float64, count)
	for f := 0; f < count; f++ {
		times[f] = 0.8 * float64(f)
		for p := 0; p < h*w; p++ {
			pixels[f*h*w+p] = uint8(10 * f)
		}
	}
	src := &stack.MemorySource{Pixels: pixels, Height: h, Width: w, TimesSec: times}
	sink := &memSink{}

	est, err := New(src, sink, Config{
		KernelSize:    3,
		SplitTime:     3,
		FracCleansing: 1, // disable cleansing
		NumWorkers:    2,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := est.Steps(); got != 3 {
		t.Fatalf("Steps() = %d, want 3", got)
	}
	if err := est.Process(context.Background()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(sink.frames) != count*h*w {
		t.Fatalf("sink holds %d pixels, want %d", len(sink.frames), count*h*w)
	}
	want := []uint8{10, 10, 50, 50, 50, 50, 80, 80, 80, 80}
	for f := 0; f < count; f++ {
		for p := 0; p < h*w; p++ {
			if got := sink.frames[f*h*w+p]; got != want[f] {
				t.Fatalf("frame %d pixel %d = %d, want %d", f, p, got, want[f])
			}
		}
	}
}

func TestNewClampsOversizedKernel(t *testing.T) {
	src := &stack.MemorySource{Pixels: make([]uint8, 5*2*2), Height: 2, Width: 2}
	lg := &recordLogger{}

	est, err := New(src, &memSink{}, Config{KernelSize: 100, FracCleansing: 1}, lg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if est.cfg.KernelSize != 5 {
		t.Fatalf("kernel size = %d, want clamped to 5", est.cfg.KernelSize)
	}
	if len(lg.warns) != 1 {
		t.Fatalf("got %d warnings, want 1", len(lg.warns))
	}
}

func TestNewEmptyInput(t *testing.T) {
	src := &stack.MemorySource{Height: 2, Width: 2}
	if _, err := New(src, &memSink{}, Config{}, nil); err == nil {
		t.Fatal("want error for empty input")
	}
}

func TestSelectSurvivingQuantile(t *testing.T) {
	ref := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	sel := selectSurviving(ref, 0, 0.8)
	if sel.fellBack {
		t.Fatal("quantile cutoff must not fall back")
	}
	// quantile(ref, 0.8) = 7.2, so 8 and 9 are removed.
	if sel.fracRemove != 0.2 {
		t.Fatalf("fracRemove = %v, want 0.2", sel.fracRemove)
	}
	for i, u := range sel.used {
		if want := i <= 7; u != want {
			t.Fatalf("used[%d] = %v, want %v", i, u, want)
		}
	}
}

func TestSelectSurvivingFallback(t *testing.T) {
	ref := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	// An absurdly large threshold factor shrinks the cutoff until
	// almost everything would be removed; the quantile is enforced.
	sel := selectSurviving(ref, 1e12, 0.8)
	if !sel.fellBack {
		t.Fatal("want fallback to quantile cutoff")
	}
	if sel.fracRemoveRequested != 0.9 {
		t.Fatalf("fracRemoveRequested = %v, want 0.9", sel.fracRemoveRequested)
	}
	if sel.fracRemove != 0.2 {
		t.Fatalf("fracRemove after fallback = %v, want 0.2", sel.fracRemove)
	}
}

func TestCleanseDropsContaminated(t *testing.T) {
	// 40 constant background images, one of which carries a strong
	// horizontal brightness modulation as an event would leave behind.
	const steps, h, w = 40, 50, 10
	e := &Estimator{
		cfg:       Config{ThreshCleansing: 0, FracCleansing: 0.8, SplitTime: 1},
		logger:    log.NewNoopLogger(),
		height:    h,
		width:     w,
		stepTimes: make([]float64, steps),
		bgImages:  make([]uint8, steps*h*w),
	}
	for i := range e.bgImages {
		e.bgImages[i] = 10
	}
	const bad = 7
	for y := 0; y < h; y++ {
		for x := 0; x < w; x += 2 {
			e.bgImages[bad*h*w+y*w+x] = 210
		}
	}

	surviving := e.cleanse()
	if len(surviving) != steps-1 {
		t.Fatalf("got %d surviving images, want %d", len(surviving), steps-1)
	}
	for _, i := range surviving {
		if i == bad {
			t.Fatalf("contaminated image %d survived cleansing", bad)
		}
	}
}

func TestCleanseDisabled(t *testing.T) {
	e := &Estimator{
		cfg:       Config{FracCleansing: 1},
		logger:    log.NewNoopLogger(),
		height:    2,
		width:     2,
		stepTimes: make([]float64, 4),
		bgImages:  make([]uint8, 4*4),
	}
	if got := e.cleanse(); len(got) != 4 {
		t.Fatalf("got %d surviving images, want all 4", len(got))
	}
}

func TestArgminAbsOffset(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4}
	cases := []struct {
		target, offset float64
		want           int
	}{
		{2.4, 0, 2},
		{2.6, 0, 3},
		{3, -0.5, 2}, // tie between 2 and 3, first occurrence wins
		{-5, 0, 0},
		{100, 0, 4},
	}
	for _, c := range cases {
		if got := argminAbsOffset(times, c.target, c.offset); got != c.want {
			t.Errorf("argminAbsOffset(%v, %v) = %d, want %d", c.target, c.offset, got, c.want)
		}
	}
}

func TestMathHelpers(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median odd = %v, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("median even = %v, want 2.5", got)
	}
	if got := variance([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}); got != 8.25 {
		t.Errorf("variance = %v, want 8.25", got)
	}
	xs := []float64{1, 2, 3, 4}
	if got := quantile(xs, 0); got != 1 {
		t.Errorf("quantile(0) = %v, want 1", got)
	}
	if got := quantile(xs, 1); got != 4 {
		t.Errorf("quantile(1) = %v, want 4", got)
	}
	if got := quantile(xs, 0.5); got != 2.5 {
		t.Errorf("quantile(0.5) = %v, want 2.5", got)
	}
}

func TestMedianFilter1D(t *testing.T) {
	xs := []float64{1, 5, 2, 8, 3}
	got := medianFilter1D(xs, 3)
	want := []float64{1, 2, 5, 3, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("medianFilter1D[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSelectKth(t *testing.T) {
	buf := []uint8{9, 3, 7, 1, 5, 8, 2, 6, 4, 0}
	for k := 0; k < len(buf); k++ {
		tmp := make([]uint8, len(buf))
		copy(tmp, buf)
		if got := selectKth(tmp, k); int(got) != k {
			t.Fatalf("selectKth(k=%d) = %d, want %d", k, got, k)
		}
	}
}

func TestEstimatorID(t *testing.T) {
	src := &stack.MemorySource{Pixels: make([]uint8, 4*2*2), Height: 2, Width: 2}
	est, err := New(src, &memSink{}, Config{FracCleansing: 0.8}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Kernel clamped to the input length of 4.
	if got, want := est.ID(), "sparsemed:k=4^s=1^t=0^f=0.8"; got != want {
		t.Fatalf("ID() = %q, want %q", got, want)
	}
}

func TestBuildTimeAxisFallbacks(t *testing.T) {
	// Recorded timestamps win and are rebased to zero.
	src := &stack.MemorySource{
		Pixels: make([]uint8, 3*1*1), Height: 1, Width: 1,
		TimesSec: []float64{100, 101, 103},
	}
	est, err := New(src, &memSink{}, Config{FracCleansing: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if est.time[0] != 0 || est.time[2] != 3 {
		t.Fatalf("rebased time axis = %v", est.time)
	}

	// A frame rate gives a linear axis spanning 1.5x the nominal span.
	src = &stack.MemorySource{
		Pixels: make([]uint8, 3*1*1), Height: 1, Width: 1,
		Rate: 2,
	}
	est, err = New(src, &memSink{}, Config{FracCleansing: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantDur := 3.0 / 2 * 1.5
	if math.Abs(est.time[2]-wantDur) > 1e-12 {
		t.Fatalf("rate-derived duration = %v, want %v", est.time[2], wantDur)
	}
}
