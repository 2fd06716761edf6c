package app

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cytolabs/dcpipe/internal/domain"
	"github.com/cytolabs/dcpipe/internal/ports"
	"github.com/cytolabs/dcpipe/pkg/background"
	"github.com/cytolabs/dcpipe/pkg/barrier"
	"github.com/cytolabs/dcpipe/pkg/feat"
	"github.com/cytolabs/dcpipe/pkg/log"
	"github.com/cytolabs/dcpipe/pkg/ppid"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

// Pipeline defaults.
const (
	DefaultChunkSize = 1000
	DefaultCacheSize = 5
	DefaultNumSlots  = 2
	DefaultPixelSize = 0.34

	// backpressureDepth is the writer queue depth above which the
	// coordinator stalls before distributing the next chunk.
	backpressureDepth = 100

	// invalidWarnFraction is the invalid-mask fraction above which the
	// run finishes with a warning.
	invalidWarnFraction = 0.005

	// eventQueueCap bounds the writer queue. It must exceed
	// backpressureDepth so the stall policy can engage.
	eventQueueCap = 1000
)

// Config holds the pipeline parameters.
type Config struct {
	// ChunkSize is the number of frames per chunk.
	ChunkSize int

	// CacheSize is the number of resident chunks per cache.
	CacheSize int

	// NumSlots is the number of handoff slots between the segmenter
	// and the extraction side.
	NumSlots int

	// NumWorkers is the extraction worker count. Defaults to
	// NumCPU-1, at least one. Debug forces one.
	NumWorkers int

	// Debug runs a single extraction worker for deterministic
	// scheduling.
	Debug bool

	// PixelSize is the physical pixel edge length in µm.
	PixelSize float64

	// Brightness enables the brightness feature set.
	Brightness bool

	// Haralick enables the texture feature set.
	Haralick bool

	// BackgroundID is the pipeline identifier of the background stage
	// that produced the background input. Empty selects the default
	// sparse-median identifier.
	BackgroundID string
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.NumSlots == 0 {
		c.NumSlots = DefaultNumSlots
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = runtime.NumCPU() - 1
	}
	if c.NumWorkers < 1 {
		c.NumWorkers = 1
	}
	if c.Debug {
		c.NumWorkers = 1
	}
	if c.PixelSize == 0 {
		c.PixelSize = DefaultPixelSize
	}
	if c.ChunkSize < 0 || c.CacheSize < 0 || c.NumSlots < 1 || c.PixelSize < 0 {
		return fmt.Errorf("%w: chunk_size=%d cache_size=%d num_slots=%d pixel_size=%v",
			domain.ErrInvalidConfig, c.ChunkSize, c.CacheSize, c.NumSlots, c.PixelSize)
	}
	if c.BackgroundID == "" {
		c.BackgroundID = defaultBackgroundID()
	}
	return nil
}

func defaultBackgroundID() string {
	id, err := background.Stage().Encode(nil)
	if err != nil {
		panic(err)
	}
	return id
}

// dataStage identifies the raw stack input for fingerprint purposes.
var dataStage = ppid.NewStage("dcs", []ppid.Param{
	{Name: "pixel_size", Default: DefaultPixelSize},
})

// Pipeline runs the segmentation and extraction stages over one
// measurement: raw frames and their precomputed background are turned
// into gated per-frame feature batches on the event sink.
type Pipeline struct {
	cfg    Config
	src    ports.ImageSource
	bg     ports.ImageSource
	sink   ports.EventSink
	seg    ports.Segmenter
	gate   ports.Gate
	logger log.Logger
	life   *Lifecycle

	runID         string
	height, width int
	count         int

	slots   *slotTable
	workCh  chan domain.WorkItem
	eventCh chan domain.EventBatch
	monitor *barrier.Counter
	arena   []int16
	invalid atomic.Int64
	nevents []int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a pipeline over src with its precomputed background bg.
// Both stacks must agree on frame shape and count.
func New(cfg Config, src, bg ports.ImageSource, sink ports.EventSink,
	seg ports.Segmenter, g ports.Gate, logger log.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	h, w := src.FrameShape()
	bh, bw := bg.FrameShape()
	if h != bh || w != bw {
		return nil, fmt.Errorf("%w: frame shape %dx%d does not match background %dx%d",
			domain.ErrInvalidConfig, h, w, bh, bw)
	}
	if src.Len() != bg.Len() {
		return nil, fmt.Errorf("%w: %d frames but %d background frames",
			domain.ErrInvalidConfig, src.Len(), bg.Len())
	}
	count := src.Len()

	p := &Pipeline{
		cfg:     cfg,
		src:     src,
		bg:      bg,
		sink:    sink,
		seg:     seg,
		gate:    g,
		logger:  logger,
		life:    NewLifecycle(logger),
		runID:   uuid.NewString(),
		height:  h,
		width:   w,
		count:   count,
		slots:   newSlotTable(cfg.NumSlots, cfg.ChunkSize, h*w),
		workCh:  make(chan domain.WorkItem, cfg.ChunkSize),
		eventCh: make(chan domain.EventBatch, eventQueueCap),
		monitor: barrier.NewCounter(),
		arena:   make([]int16, cfg.ChunkSize*h*w),
		nevents: make([]int64, count),
	}
	for i := range p.nevents {
		p.nevents[i] = -1
	}

	datID, err := dataStage.Encode(map[string]interface{}{"pixel_size": cfg.PixelSize})
	if err != nil {
		return nil, err
	}
	hash := ppid.Hash(ppid.Generation, datID, cfg.BackgroundID,
		seg.ID(), feat.ExtractorID(cfg.Brightness, cfg.Haralick), g.ID())
	logger.Info("pipeline created",
		log.String("run_id", p.runID),
		log.Int("frames", count),
		log.Int("workers", cfg.NumWorkers),
		log.String("pipeline_hash", hash),
	)
	return p, nil
}

// Hash returns the content-addressed fingerprint of this pipeline's
// full configuration.
func (p *Pipeline) Hash() string {
	datID, err := dataStage.Encode(map[string]interface{}{"pixel_size": p.cfg.PixelSize})
	if err != nil {
		panic(err)
	}
	return ppid.Hash(ppid.Generation, datID, p.cfg.BackgroundID,
		p.seg.ID(), feat.ExtractorID(p.cfg.Brightness, p.cfg.Haralick), p.gate.ID())
}

// EventCounts returns the per-frame event counts. Entries for frames
// that were never successfully processed hold -1. Only meaningful
// after Run has returned.
func (p *Pipeline) EventCounts() []int64 {
	out := make([]int64, len(p.nevents))
	for i := range out {
		out[i] = atomic.LoadInt64(&p.nevents[i])
	}
	return out
}

// InvalidMasks returns the number of events rejected for degenerate
// masks.
func (p *Pipeline) InvalidMasks() int64 { return p.invalid.Load() }

// Run executes the pipeline to completion: segmenter, coordinator,
// worker pool and writer run as goroutines until every chunk has been
// segmented, extracted and written, or the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Break cond waiters out on cancellation.
	go func() {
		<-ctx.Done()
		p.slots.wake()
	}()

	errCh := make(chan error, p.cfg.NumWorkers+3)
	fail := func(err error) {
		if err != nil && err != context.Canceled {
			errCh <- err
		}
		cancel()
	}

	var top sync.WaitGroup

	top.Add(1)
	go func() {
		defer top.Done()
		if err := p.runSegmenter(ctx); err != nil {
			fail(err)
		}
	}()

	// The coordinator owns the work channel and closes it after the
	// last chunk; the workers own the event channel.
	var workers sync.WaitGroup
	for i := 0; i < p.cfg.NumWorkers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	top.Add(1)
	go func() {
		defer top.Done()
		workers.Wait()
		close(p.eventCh)
	}()

	top.Add(1)
	go func() {
		defer top.Done()
		if err := p.runCoordinator(ctx); err != nil {
			fail(err)
		}
	}()

	top.Add(1)
	go func() {
		defer top.Done()
		if err := p.runWriter(); err != nil {
			fail(err)
		}
	}()

	top.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	return ctx.Err()
}

// runWriter drains event batches to the sink until the worker pool
// closes the channel.
func (p *Pipeline) runWriter() error {
	written := 0
	for b := range p.eventCh {
		if err := p.sink.WriteBatch(b); err != nil {
			// Drain remaining batches so the workers never block on a
			// dead writer.
			go func() {
				for range p.eventCh {
				}
			}()
			return fmt.Errorf("event sink: %w", err)
		}
		written++
	}
	p.logger.Info("writer finished", log.Int("batches", written))
	return nil
}

// Start begins the pipeline run in the background, in the manner of a
// long-running agent: it returns immediately and the run continues
// until completion, error, or Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.life.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := p.life.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.life.SetCancel(cancel)

	p.life.AddWorker()
	go func() {
		defer p.life.WorkerDone()

		if err := p.life.TransitionTo(StateRunning, "pipeline starting"); err != nil {
			p.logger.Error("failed to transition to running", log.Err(err))
			return
		}

		err := p.Run(runCtx)
		switch {
		case err == nil:
			_ = p.life.TransitionTo(StateStopping, "run complete")
			_ = p.life.TransitionTo(StateStopped, "run complete")
		case err == context.Canceled:
			// Stop() drives the state machine.
		default:
			p.logger.Error("pipeline error", log.Err(err))
			_ = p.life.TransitionTo(StateCrashed, err.Error())
		}
	}()

	return nil
}

// Stop cancels a running pipeline and waits for its goroutines.
// Returns nil on graceful shutdown, domain.ErrShutdownTimeout if
// forced.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.life.CanStop() {
		p.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := p.life.TransitionTo(StateStopping, "Stop() called"); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	err := p.life.WaitWithTimeout(ShutdownTimeout)
	if err != nil {
		_ = p.life.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = p.life.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current lifecycle state.
func (p *Pipeline) Status() State { return p.life.State() }

// newImageCaches builds the per-goroutine chunk caches over the raw
// and background stacks.
func (p *Pipeline) newImageCaches() (*stack.ChunkCache, *stack.CorrectedCache) {
	img := stack.NewChunkCache(p.src, stack.Options{
		Name:      "image",
		ChunkSize: p.cfg.ChunkSize,
		CacheSize: p.cfg.CacheSize,
	})
	bg := stack.NewChunkCache(p.bg, stack.Options{
		Name:      "image_bg",
		ChunkSize: p.cfg.ChunkSize,
		CacheSize: p.cfg.CacheSize,
	})
	return img, stack.NewCorrectedCache(img, bg)
}
