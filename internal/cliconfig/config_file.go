package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations and bool
// pointers so absent keys can be told from explicit values.
type FileConfig struct {
	InputPath      string `toml:"input"`
	BackgroundPath string `toml:"background"`
	OutputPath     string `toml:"output"`

	WatchDir    string `toml:"watch_dir"`
	WatchExt    string `toml:"watch_ext"`
	SettleDelay string `toml:"settle_delay"`

	ChunkSize  int   `toml:"chunk_size"`
	CacheSize  int   `toml:"cache_size"`
	NumSlots   int   `toml:"num_slots"`
	NumWorkers int   `toml:"num_workers"`
	Debug      *bool `toml:"debug"`

	PixelSize  float64 `toml:"pixel_size"`
	Brightness *bool   `toml:"brightness"`
	Haralick   *bool   `toml:"haralick"`

	Thresh      float64 `toml:"thresh"`
	ClearBorder *bool   `toml:"clear_border"`
	FillHoles   *bool   `toml:"fill_holes"`
	ClosingDisk int     `toml:"closing_disk"`

	KernelSize      int     `toml:"kernel_size"`
	SplitTime       float64 `toml:"split_time"`
	ThreshCleansing float64 `toml:"thresh_cleansing"`
	FracCleansing   float64 `toml:"frac_cleansing"`
	BgWorkers       int     `toml:"bg_workers"`

	SizeThreshMask int `toml:"size_thresh_mask"`

	LogLevel string `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.dcpipe/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".dcpipe", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("input", fc.InputPath, &cfg.InputPath)
	s.setString("background", fc.BackgroundPath, &cfg.BackgroundPath)
	s.setString("output", fc.OutputPath, &cfg.OutputPath)
	s.setString("watch-dir", fc.WatchDir, &cfg.WatchDir)
	s.setString("watch-ext", fc.WatchExt, &cfg.WatchExt)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("settle-delay", fc.SettleDelay, &cfg.SettleDelay); err != nil {
		return err
	}

	s.setInt("chunk-size", fc.ChunkSize, &cfg.ChunkSize)
	s.setInt("cache-size", fc.CacheSize, &cfg.CacheSize)
	s.setInt("num-slots", fc.NumSlots, &cfg.NumSlots)
	s.setInt("workers", fc.NumWorkers, &cfg.NumWorkers)
	s.setInt("closing-disk", fc.ClosingDisk, &cfg.ClosingDisk)
	s.setInt("kernel-size", fc.KernelSize, &cfg.KernelSize)
	s.setInt("bg-workers", fc.BgWorkers, &cfg.BgWorkers)
	s.setInt("size-thresh-mask", fc.SizeThreshMask, &cfg.SizeThreshMask)

	s.setFloat("pixel-size", fc.PixelSize, &cfg.PixelSize)
	s.setFloat("split-time", fc.SplitTime, &cfg.SplitTime)
	s.setFloat("thresh-cleansing", fc.ThreshCleansing, &cfg.ThreshCleansing)
	s.setFloat("frac-cleansing", fc.FracCleansing, &cfg.FracCleansing)
	s.setSignedFloat("thresh", fc.Thresh, &cfg.Thresh)

	s.setBool("debug", fc.Debug, &cfg.Debug)
	s.setBool("brightness", fc.Brightness, &cfg.Brightness)
	s.setBool("haralick", fc.Haralick, &cfg.Haralick)
	s.setBool("clear-border", fc.ClearBorder, &cfg.ClearBorder)
	s.setBool("fill-holes", fc.FillHoles, &cfg.FillHoles)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
