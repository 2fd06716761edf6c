package background

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/cytolabs/dcpipe/pkg/log"
	"github.com/cytolabs/dcpipe/pkg/ppid"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

// Defaults for the sparse-median estimator.
const (
	DefaultKernelSize      = 200
	DefaultSplitTime       = 1.0
	DefaultThreshCleansing = 0.0
	DefaultFracCleansing   = 0.8

	// DefaultAssumedRate is the frame rate assumed when the source
	// records neither timestamps nor a rate.
	DefaultAssumedRate = 3600.0

	// writeBatchRows bounds peak memory during result write-back.
	writeBatchRows = 1000
)

// Sink accepts slice writes of synthesized background frames.
type Sink interface {
	WriteFrames(start int, frames []uint8) error
}

// Config holds the user-facing estimator parameters.
type Config struct {
	// KernelSize is the number of frames in each median window.
	KernelSize int

	// SplitTime is the time in seconds between background images.
	SplitTime float64

	// ThreshCleansing scales the fixed cleansing threshold; larger
	// values exclude more background images. Zero enforces the
	// quantile cutoff given by FracCleansing instead.
	ThreshCleansing float64

	// FracCleansing is the fraction of background images that must
	// survive cleansing. One disables cleansing altogether.
	FracCleansing float64

	// NumWorkers is the size of the median worker pool.
	// Defaults to runtime.NumCPU().
	NumWorkers int
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.KernelSize == 0 {
		c.KernelSize = DefaultKernelSize
	}
	if c.SplitTime == 0 {
		c.SplitTime = DefaultSplitTime
	}
	if c.FracCleansing == 0 {
		c.FracCleansing = DefaultFracCleansing
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.NumCPU()
	}
	if c.KernelSize < 0 {
		return fmt.Errorf("kernel size must be positive")
	}
	if c.SplitTime < 0 {
		return fmt.Errorf("split time must be positive")
	}
	if c.ThreshCleansing < 0 {
		return fmt.Errorf("cleansing threshold must be >= 0")
	}
	if c.FracCleansing < 0 || c.FracCleansing > 1 {
		return fmt.Errorf("cleansing fraction must be in (0, 1]")
	}
	return nil
}

// Estimator computes the sparse-median background series for one
// source and writes the per-frame assignment to a sink.
type Estimator struct {
	cfg    Config
	src    stack.Source
	sink   Sink
	logger log.Logger

	height, width int
	count         int

	time      []float64 // per-frame time axis, rebased to zero
	stepTimes []float64 // target timestamps of the background series
	bgImages  []uint8   // len(stepTimes) * height * width
}

// New creates an estimator over src. An oversized kernel is clamped to
// the input length with a warning.
func New(src stack.Source, sink Sink, cfg Config, logger log.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	count := src.Len()
	if count == 0 {
		return nil, fmt.Errorf("background: empty input")
	}
	if cfg.KernelSize > count {
		logger.Warn("kernel size too large for input, clamping",
			log.Int("kernel_size", cfg.KernelSize),
			log.Int("input_size", count))
		cfg.KernelSize = count
	}

	h, w := src.FrameShape()
	e := &Estimator{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		logger: logger,
		height: h,
		width:  w,
		count:  count,
	}
	e.buildTimeAxis()

	duration := e.time[count-1] - e.time[0]
	for t := 0.0; t < duration; t += cfg.SplitTime {
		e.stepTimes = append(e.stepTimes, t)
	}
	if len(e.stepTimes) == 0 {
		e.stepTimes = []float64{0}
	}
	e.bgImages = make([]uint8, len(e.stepTimes)*h*w)
	return e, nil
}

// buildTimeAxis derives the per-frame time axis: recorded timestamps
// when available, else frame rate, else a linear estimate.
func (e *Estimator) buildTimeAxis() {
	if ts, ok := e.src.(interface{ Times() []float64 }); ok {
		if rec := ts.Times(); len(rec) == e.count {
			e.time = make([]float64, e.count)
			t0 := rec[0]
			for i, t := range rec {
				e.time[i] = t - t0
			}
			return
		}
	}
	rate := DefaultAssumedRate
	known := false
	if rs, ok := e.src.(interface{ FrameRate() float64 }); ok {
		if r := rs.FrameRate(); r > 0 {
			rate = r
			known = true
		}
	}
	dur := float64(e.count) / rate * 1.5
	if known {
		e.logger.Info("approximating duration from frame rate",
			log.Float64("duration_min", dur/60))
	} else {
		e.logger.Info("guessing duration",
			log.Float64("duration_min", dur/60))
	}
	e.time = linspace(0, dur, e.count)
}

// Steps returns the number of background images in the series.
func (e *Estimator) Steps() int { return len(e.stepTimes) }

// Process computes the background series, cleanses it, assigns every
// frame its nearest surviving background image and writes the result
// to the sink in fixed-size row batches. A failed median computation
// or sink write is fatal for the run.
func (e *Estimator) Process(ctx context.Context) error {
	pool, err := newMedianPool(ctx, e.cfg.NumWorkers, e.cfg.KernelSize, e.height*e.width)
	if err != nil {
		return err
	}
	defer pool.close()

	for ii, ti := range e.stepTimes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processStep(ctx, pool, ii, ti); err != nil {
			return fmt.Errorf("background step %d: %w", ii, err)
		}
	}
	e.logger.Info("background series computed", log.Int("steps", len(e.stepTimes)))

	surviving := e.cleanse()
	return e.assignAndWrite(surviving)
}

// processStep computes background image ii as the pixelwise median of
// the kernel window around timestamp ti.
func (e *Estimator) processStep(ctx context.Context, pool *medianPool, ii int, ti float64) error {
	start := argminAbsOffset(e.time, ti, 0)
	stop := start + e.cfg.KernelSize
	if stop >= e.count {
		// Clamp so the window never runs past the end; the kernel was
		// already clamped to the input length, so start stays >= 0.
		stop = e.count
		start = stop - e.cfg.KernelSize
	}

	frames, err := e.src.ReadFrames(start, stop)
	if err != nil {
		return err
	}
	out, err := pool.median(ctx, frames)
	if err != nil {
		return err
	}
	copy(e.bgImages[ii*e.height*e.width:], out)
	return nil
}

// cleanse drops background images that still contain event data and
// returns the indices of the surviving series entries.
func (e *Estimator) cleanse() []int {
	steps := len(e.stepTimes)
	all := make([]int, steps)
	for i := range all {
		all[i] = i
	}
	if e.cfg.FracCleansing == 1 || steps < 2 {
		e.logger.Info("background series cleansing disabled")
		return all
	}

	ref := e.cleansingDeviation()
	sel := selectSurviving(ref, e.cfg.ThreshCleansing, e.cfg.FracCleansing)
	if sel.fellBack {
		e.logger.Warn("cleansing threshold too aggressive, enforcing quantile cutoff",
			log.Float64("frac_removed_requested", sel.fracRemoveRequested),
			log.Float64("corrected_thresh_cleansing", sel.correctedThresh))
	}
	e.logger.Info("cleansed background series",
		log.Float64("frac_removed", sel.fracRemove))

	surviving := make([]int, 0, steps)
	for i, u := range sel.used {
		if u {
			surviving = append(surviving, i)
		}
	}
	return surviving
}

// selection is the outcome of the cleansing threshold decision.
type selection struct {
	used                []bool
	fracRemove          float64
	fellBack            bool
	fracRemoveRequested float64
	correctedThresh     float64
}

// selectSurviving classifies background images as clean or
// contaminated based on their deviation ref. A nonzero threshCleansing
// uses a fixed multiple of the deviation variance; when that would
// retain fewer than fracCleansing of the images, the quantile cutoff
// is enforced instead.
func selectSurviving(ref []float64, threshCleansing, fracCleansing float64) selection {
	apply := func(thresh float64) ([]bool, float64) {
		used := make([]bool, len(ref))
		removed := 0
		for i, r := range ref {
			used[i] = r <= thresh
			if !used[i] {
				removed++
			}
		}
		return used, float64(removed) / float64(len(ref))
	}

	threshFact := variance(ref) * 150
	var thresh float64
	if threshCleansing != 0 {
		thresh = threshFact / threshCleansing
	} else {
		thresh = quantile(ref, fracCleansing)
	}
	used, fracRemove := apply(thresh)

	sel := selection{used: used, fracRemove: fracRemove}
	if threshCleansing != 0 && 1-fracRemove < fracCleansing {
		sel.fellBack = true
		sel.fracRemoveRequested = fracRemove
		thresh = quantile(ref, fracCleansing)
		sel.used, sel.fracRemove = apply(thresh)
		sel.correctedThresh = threshFact / thresh
	}
	return sel
}

// cleansingDeviation reduces every background image to one scalar: the
// deviation of its central peak-to-peak profile from a median-filtered
// baseline over the series. Contaminated images stand out as outliers.
func (e *Estimator) cleansingDeviation() []float64 {
	steps := len(e.stepTimes)
	h, w := e.height, e.width
	npix := h * w

	// Peak-to-peak along the width axis, one profile row per image row.
	prof := make([]float64, steps*h)
	for i := 0; i < steps; i++ {
		img := e.bgImages[i*npix : (i+1)*npix]
		for y := 0; y < h; y++ {
			row := img[y*w : (y+1)*w]
			lo, hi := row[0], row[0]
			for _, v := range row[1:] {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			prof[i*h+y] = float64(hi - lo)
		}
	}

	// Median profile across the series, then normalize.
	med := make([]float64, h)
	col := make([]float64, steps)
	for y := 0; y < h; y++ {
		for i := 0; i < steps; i++ {
			col[i] = prof[i*h+y]
		}
		med[y] = median(col)
	}

	// Mean of the normalized profile over a central row window.
	spread := h / 4
	if spread < 20 {
		spread = 20
	}
	lo, hi := h/2-spread, h/2+spread
	if lo < 0 {
		lo = 0
	}
	if hi > h {
		hi = h
	}
	cent := make([]float64, steps)
	for i := 0; i < steps; i++ {
		sum := 0.0
		for y := lo; y < hi; y++ {
			sum += prof[i*h+y] - med[y]
		}
		cent[i] = sum / float64(hi-lo)
	}

	// Median-filtered baseline; window 10 is time-based, matching the
	// splitTime spacing of the series.
	baseline := medianFilter1D(cent, 10)
	x := make([]float64, steps)
	for i := range x {
		x[i] = cent[i] - baseline[i]
	}
	xmed := median(x)
	ref := make([]float64, steps)
	for i := range ref {
		ref[i] = math.Abs(x[i] - xmed)
	}
	return ref
}

// assignAndWrite maps every frame to its nearest surviving background
// image and streams the result to the sink in bounded batches.
func (e *Estimator) assignAndWrite(surviving []int) error {
	npix := e.height * e.width

	// Boundary between consecutive series entries sits half a split
	// interval before the entry's timestamp; frames after the last
	// boundary inherit the last surviving image.
	bgIdx := make([]int, e.count)
	idx0 := 0
	last := 0
	for si, step := range surviving {
		t1 := e.stepTimes[step]
		idx1 := argminAbsOffset(e.time, t1, -e.cfg.SplitTime/2)
		for f := idx0; f < idx1; f++ {
			bgIdx[f] = si
		}
		idx0 = idx1
		last = si
	}
	for f := idx0; f < e.count; f++ {
		bgIdx[f] = last
	}

	buf := make([]uint8, 0, writeBatchRows*npix)
	for pos := 0; pos < e.count; pos += writeBatchRows {
		stop := pos + writeBatchRows
		if stop > e.count {
			stop = e.count
		}
		buf = buf[:0]
		for f := pos; f < stop; f++ {
			img := surviving[bgIdx[f]]
			buf = append(buf, e.bgImages[img*npix:(img+1)*npix]...)
		}
		if err := e.sink.WriteFrames(pos, buf); err != nil {
			return fmt.Errorf("background write at %d: %w", pos, err)
		}
	}
	return nil
}

// stage describes the estimator for pipeline-identifier purposes.
var stage = ppid.NewStage("sparsemed", []ppid.Param{
	{Name: "kernel_size", Default: DefaultKernelSize},
	{Name: "split_time", Default: DefaultSplitTime},
	{Name: "thresh_cleansing", Default: DefaultThreshCleansing},
	{Name: "frac_cleansing", Default: DefaultFracCleansing},
})

// ID returns the estimator's pipeline identifier, e.g.
// "sparsemed:k=200^s=1^t=0^f=0.8".
func (e *Estimator) ID() string {
	id, err := stage.Encode(map[string]interface{}{
		"kernel_size":      e.cfg.KernelSize,
		"split_time":       e.cfg.SplitTime,
		"thresh_cleansing": e.cfg.ThreshCleansing,
		"frac_cleansing":   e.cfg.FracCleansing,
	})
	if err != nil {
		panic(err)
	}
	return id
}

// Stage exposes the estimator's ppid stage descriptor.
func Stage() ppid.Stage { return stage }

// argminAbsOffset returns the index minimizing |times[i] - (target + offset)|,
// first occurrence winning.
func argminAbsOffset(times []float64, target, offset float64) int {
	best := 0
	bestDist := math.Inf(1)
	want := target + offset
	for i, t := range times {
		d := math.Abs(t - want)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// linspace returns n evenly spaced values from a to b inclusive.
func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + float64(i)*step
	}
	return out
}
