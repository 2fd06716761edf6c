package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (DCPIPE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("input", os.Getenv("DCPIPE_INPUT"), &cfg.InputPath)
	s.setString("background", os.Getenv("DCPIPE_BACKGROUND"), &cfg.BackgroundPath)
	s.setString("output", os.Getenv("DCPIPE_OUTPUT"), &cfg.OutputPath)
	s.setString("watch-dir", os.Getenv("DCPIPE_WATCH_DIR"), &cfg.WatchDir)
	s.setString("watch-ext", os.Getenv("DCPIPE_WATCH_EXT"), &cfg.WatchExt)
	s.setString("log-level", os.Getenv("DCPIPE_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("settle-delay", os.Getenv("DCPIPE_SETTLE_DELAY"), &cfg.SettleDelay); err != nil {
		return err
	}

	if err := s.setIntFromString("chunk-size", os.Getenv("DCPIPE_CHUNK_SIZE"), &cfg.ChunkSize); err != nil {
		return err
	}
	if err := s.setIntFromString("cache-size", os.Getenv("DCPIPE_CACHE_SIZE"), &cfg.CacheSize); err != nil {
		return err
	}
	if err := s.setIntFromString("num-slots", os.Getenv("DCPIPE_NUM_SLOTS"), &cfg.NumSlots); err != nil {
		return err
	}
	if err := s.setIntFromString("workers", os.Getenv("DCPIPE_NUM_WORKERS"), &cfg.NumWorkers); err != nil {
		return err
	}
	if err := s.setIntFromString("closing-disk", os.Getenv("DCPIPE_CLOSING_DISK"), &cfg.ClosingDisk); err != nil {
		return err
	}
	if err := s.setIntFromString("kernel-size", os.Getenv("DCPIPE_KERNEL_SIZE"), &cfg.KernelSize); err != nil {
		return err
	}
	if err := s.setIntFromString("bg-workers", os.Getenv("DCPIPE_BG_WORKERS"), &cfg.BgWorkers); err != nil {
		return err
	}
	if err := s.setIntFromString("size-thresh-mask", os.Getenv("DCPIPE_SIZE_THRESH_MASK"), &cfg.SizeThreshMask); err != nil {
		return err
	}

	if err := s.setFloatFromString("pixel-size", os.Getenv("DCPIPE_PIXEL_SIZE"), &cfg.PixelSize); err != nil {
		return err
	}
	if err := s.setFloatFromString("split-time", os.Getenv("DCPIPE_SPLIT_TIME"), &cfg.SplitTime); err != nil {
		return err
	}
	if err := s.setFloatFromString("thresh-cleansing", os.Getenv("DCPIPE_THRESH_CLEANSING"), &cfg.ThreshCleansing); err != nil {
		return err
	}
	if err := s.setFloatFromString("frac-cleansing", os.Getenv("DCPIPE_FRAC_CLEANSING"), &cfg.FracCleansing); err != nil {
		return err
	}
	if err := s.setSignedFloatFromString("thresh", os.Getenv("DCPIPE_THRESH"), &cfg.Thresh); err != nil {
		return err
	}

	s.setBoolFromString("debug", os.Getenv("DCPIPE_DEBUG"), &cfg.Debug)
	s.setBoolFromString("brightness", os.Getenv("DCPIPE_BRIGHTNESS"), &cfg.Brightness)
	s.setBoolFromString("haralick", os.Getenv("DCPIPE_HARALICK"), &cfg.Haralick)
	s.setBoolFromString("clear-border", os.Getenv("DCPIPE_CLEAR_BORDER"), &cfg.ClearBorder)
	s.setBoolFromString("fill-holes", os.Getenv("DCPIPE_FILL_HOLES"), &cfg.FillHoles)

	return nil
}
