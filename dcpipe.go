// Package dcpipe segments deformability cytometry image stacks and
// extracts per-event features.
//
// Example usage:
//
//	cfg := dcpipe.DefaultConfig()
//	cfg.InputPath = "/data/m1.dcs"
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := dcpipe.Run(context.Background(), cfg); err != nil {
//	    log.Fatal(err)
//	}
package dcpipe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cytolabs/dcpipe/internal/adapters/fs"
	"github.com/cytolabs/dcpipe/internal/app"
	"github.com/cytolabs/dcpipe/internal/cliconfig"
	"github.com/cytolabs/dcpipe/internal/segm"
	"github.com/cytolabs/dcpipe/pkg/background"
	"github.com/cytolabs/dcpipe/pkg/gate"
	"github.com/cytolabs/dcpipe/pkg/log"
)

// Config holds the configuration for the extraction pipeline.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// DefaultConfig returns a Config with sensible default values.
// At minimum, set InputPath (or WatchDir) before calling Run.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Logger returns the package-level zerolog logger.
func Logger() zerolog.Logger {
	return cliconfig.Logger()
}

// Run executes the pipeline with the given configuration. With an
// input stack it processes that one measurement and returns; with a
// watch directory it blocks, processing stacks as they arrive, until
// the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.NewZerologAdapterWithLogger(cliconfig.LoggerWithLevel(cfg.LogLevel))

	if cfg.WatchDir != "" {
		return runWatch(ctx, cfg, logger)
	}
	return ProcessStack(ctx, cfg, logger, cfg.InputPath,
		cfg.BackgroundPath, cfg.OutputPath)
}

// runWatch processes stack files as they settle in the watch
// directory. Files are handled one at a time; the watcher's debounce
// keeps partial writes out.
func runWatch(ctx context.Context, cfg Config, logger log.Logger) error {
	jobs := make(chan string, 16)
	watcher := app.NewStackWatcher(cfg.WatchDir, cfg.WatchExt, cfg.SettleDelay,
		func(path string) {
			select {
			case jobs <- path:
			default:
				logger.Warn("watch queue full, dropping stack", log.String("path", path))
			}
		}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- watcher.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == context.Canceled {
				return nil
			}
			return err
		case path := <-jobs:
			if strings.HasSuffix(strings.TrimSuffix(path, cfg.WatchExt), "_bg") {
				continue // our own background output
			}
			err := ProcessStack(ctx, cfg, logger, path,
				cliconfig.DerivedBackgroundPath(path),
				cliconfig.DerivedOutputPath(path))
			if err != nil {
				logger.Error("stack processing failed",
					log.String("path", path), log.Err(err))
			}
		}
	}
}

// ProcessStack runs the full pipeline for one measurement: background
// synthesis (unless a background stack already exists), then
// segmentation and feature extraction.
func ProcessStack(ctx context.Context, cfg Config, logger log.Logger,
	inputPath, bgPath, outPath string) error {
	src, err := fs.OpenStack(inputPath)
	if err != nil {
		return fmt.Errorf("open stack: %w", err)
	}
	defer src.Close()

	bgID, err := background.Stage().Encode(map[string]interface{}{
		"kernel_size":      cfg.KernelSize,
		"split_time":       cfg.SplitTime,
		"thresh_cleansing": cfg.ThreshCleansing,
		"frac_cleansing":   cfg.FracCleansing,
	})
	if err != nil {
		return err
	}

	if !cliconfig.FileExists(bgPath) {
		if err := estimateBackground(ctx, cfg, logger, src, bgPath); err != nil {
			return err
		}
	} else {
		logger.Info("reusing existing background stack", log.String("path", bgPath))
	}

	bg, err := fs.OpenStack(bgPath)
	if err != nil {
		return fmt.Errorf("open background: %w", err)
	}
	defer bg.Close()

	sink, err := fs.NewNDJSONEventSink(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer sink.Close()

	h, w := src.FrameShape()
	seg, err := segm.NewThreshold(h, w, segm.Config{
		Thresh:      cfg.Thresh,
		ClearBorder: cfg.ClearBorder,
		FillHoles:   cfg.FillHoles,
		ClosingDisk: cfg.ClosingDisk,
	})
	if err != nil {
		return err
	}
	g := gate.New(gate.WithSizeThreshMask(cfg.SizeThreshMask))

	p, err := app.New(app.Config{
		ChunkSize:    cfg.ChunkSize,
		CacheSize:    cfg.CacheSize,
		NumSlots:     cfg.NumSlots,
		NumWorkers:   cfg.NumWorkers,
		Debug:        cfg.Debug,
		PixelSize:    cfg.PixelSize,
		Brightness:   cfg.Brightness,
		Haralick:     cfg.Haralick,
		BackgroundID: bgID,
	}, src, bg, sink, seg, g, logger)
	if err != nil {
		return err
	}

	if err := p.Run(ctx); err != nil {
		return err
	}
	logger.Info("stack processed",
		log.String("input", inputPath),
		log.String("output", outPath),
		log.String("pipeline", p.Hash()),
	)
	return nil
}

// estimateBackground synthesizes the sparse-median background stack
// next to the input.
func estimateBackground(ctx context.Context, cfg Config, logger log.Logger,
	src *fs.StackFile, bgPath string) error {
	logger.Info("computing background stack", log.String("path", bgPath))

	h, w := src.FrameShape()
	writer, err := fs.CreateStack(bgPath, src.Len(), h, w, src.Times(), src.FrameRate())
	if err != nil {
		return fmt.Errorf("create background: %w", err)
	}

	est, err := background.New(src, writer, background.Config{
		KernelSize:      cfg.KernelSize,
		SplitTime:       cfg.SplitTime,
		ThreshCleansing: cfg.ThreshCleansing,
		FracCleansing:   cfg.FracCleansing,
		NumWorkers:      cfg.BgWorkers,
	}, logger)
	if err != nil {
		writer.Close()
		return err
	}
	if err := est.Process(ctx); err != nil {
		writer.Close()
		return fmt.Errorf("background estimation: %w", err)
	}
	return writer.Close()
}
