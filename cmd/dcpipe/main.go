package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/cytolabs/dcpipe"
	"github.com/cytolabs/dcpipe/internal/cliconfig"
)

const helpDescription = `
Segment deformability cytometry image stacks and extract per-event features.

dcpipe reads a raw stack, computes (or reuses) a sparse-median background,
labels events by thresholding the background-corrected frames, and writes
gated per-frame feature batches as NDJSON.

Highlights:
  - Chunked processing with bounded memory, parallel feature extraction.
  - Background stacks are computed once and cached next to the input.
  - Every run carries a content-addressed pipeline identifier, so outputs
    produced with identical settings are directly comparable.
  - Watch mode processes measurement files as they arrive.
`

var exampleUsage = strings.TrimSpace(`
  dcpipe --input /data/m1.dcs
  dcpipe --input /data/m1.dcs --thresh -4 --workers 8
  dcpipe --watch-dir /data/incoming --watch-ext .dcs
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := dcpipe.DefaultConfig()
	var cfgPath string

	zl := dcpipe.Logger()

	root := &cobra.Command{
		Use:     "dcpipe",
		Short:   "Segmentation and feature extraction for deformability cytometry stacks",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment variables (DCPIPE_*) override file config but
			// are overridden by flags (checked via changed map).
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			zl.Info().Interface("config", cfg).Msg("configuration")

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return dcpipe.Run(ctx, cfg)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.dcpipe/config.toml)")
	root.Flags().StringVar(&cfg.InputPath, "input", "", "raw stack file to process")
	root.Flags().StringVar(&cfg.BackgroundPath, "background", "", "background stack (default: <input>_bg.dcs, computed when missing)")
	root.Flags().StringVar(&cfg.OutputPath, "output", "", "event output file (default: <input>.events.ndjson)")

	root.Flags().StringVar(&cfg.WatchDir, "watch-dir", "", "watch a directory and process arriving stacks")
	root.Flags().StringVar(&cfg.WatchExt, "watch-ext", cfg.WatchExt, "stack file extension in watch mode")
	root.Flags().DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "quiet period before a watched file is processed")

	root.Flags().IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "frames per processing chunk")
	root.Flags().IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "resident chunks per image cache")
	root.Flags().IntVar(&cfg.NumSlots, "num-slots", cfg.NumSlots, "segmented-chunk handoff slots")
	root.Flags().IntVar(&cfg.NumWorkers, "workers", cfg.NumWorkers, "extraction workers (default: CPUs-1)")
	root.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "single-worker deterministic scheduling")

	root.Flags().Float64Var(&cfg.PixelSize, "pixel-size", cfg.PixelSize, "pixel edge length in µm")
	root.Flags().BoolVar(&cfg.Brightness, "brightness", cfg.Brightness, "extract brightness features")
	root.Flags().BoolVar(&cfg.Haralick, "haralick", cfg.Haralick, "extract Haralick texture features")

	root.Flags().Float64Var(&cfg.Thresh, "thresh", cfg.Thresh, "segmentation threshold on corrected pixels (negative)")
	root.Flags().BoolVar(&cfg.ClearBorder, "clear-border", cfg.ClearBorder, "drop objects touching the frame border")
	root.Flags().BoolVar(&cfg.FillHoles, "fill-holes", cfg.FillHoles, "fill enclosed holes in masks")
	root.Flags().IntVar(&cfg.ClosingDisk, "closing-disk", cfg.ClosingDisk, "radius of the morphological closing disk (0 disables)")

	root.Flags().IntVar(&cfg.KernelSize, "kernel-size", cfg.KernelSize, "frames per background median window")
	root.Flags().Float64Var(&cfg.SplitTime, "split-time", cfg.SplitTime, "seconds between background images")
	root.Flags().Float64Var(&cfg.ThreshCleansing, "thresh-cleansing", cfg.ThreshCleansing, "fixed background cleansing threshold (0: quantile)")
	root.Flags().Float64Var(&cfg.FracCleansing, "frac-cleansing", cfg.FracCleansing, "fraction of background images kept by cleansing (1 disables)")
	root.Flags().IntVar(&cfg.BgWorkers, "bg-workers", cfg.BgWorkers, "background median workers (default: CPUs)")

	root.Flags().IntVar(&cfg.SizeThreshMask, "size-thresh-mask", cfg.SizeThreshMask, "minimum mask size in pixels (exclusive)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		zl.Error().Err(err).Msg("dcpipe")
		os.Exit(1)
	}
}
