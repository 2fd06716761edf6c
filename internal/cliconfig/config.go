package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultStackExt is the file extension of raw stack files.
const DefaultStackExt = ".dcs"

// Config holds CLI configuration for dcpipe.
type Config struct {
	InputPath      string
	BackgroundPath string
	OutputPath     string

	WatchDir    string
	WatchExt    string
	SettleDelay time.Duration

	ChunkSize  int
	CacheSize  int
	NumSlots   int
	NumWorkers int
	Debug      bool

	PixelSize  float64
	Brightness bool
	Haralick   bool

	Thresh      float64
	ClearBorder bool
	FillHoles   bool
	ClosingDisk int

	KernelSize      int
	SplitTime       float64
	ThreshCleansing float64
	FracCleansing   float64
	BgWorkers       int

	SizeThreshMask int

	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		WatchExt:       DefaultStackExt,
		SettleDelay:    500 * time.Millisecond,
		ChunkSize:      1000,
		CacheSize:      5,
		NumSlots:       2,
		PixelSize:      0.34,
		Brightness:     true,
		Haralick:       true,
		Thresh:         -6,
		ClearBorder:    true,
		FillHoles:      true,
		ClosingDisk:    2,
		KernelSize:     200,
		SplitTime:      1.0,
		FracCleansing:  0.8,
		SizeThreshMask: 10,
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.InputPath == "" && c.WatchDir == "" {
		return fmt.Errorf("an input stack or a watch directory is required")
	}

	if c.InputPath != "" {
		if c.BackgroundPath == "" {
			c.BackgroundPath = DerivedBackgroundPath(c.InputPath)
		}
		if c.OutputPath == "" {
			c.OutputPath = DerivedOutputPath(c.InputPath)
		}
	}

	if c.WatchExt == "" {
		c.WatchExt = DefaultStackExt
	}
	if !strings.HasPrefix(c.WatchExt, ".") {
		c.WatchExt = "." + c.WatchExt
	}

	if c.Thresh >= 0 {
		return fmt.Errorf("threshold must be negative, got %v", c.Thresh)
	}
	if c.KernelSize < 2 {
		return fmt.Errorf("kernel size must be at least 2, got %d", c.KernelSize)
	}
	if c.SplitTime <= 0 {
		return fmt.Errorf("split time must be positive, got %v", c.SplitTime)
	}
	if c.FracCleansing <= 0 || c.FracCleansing > 1 {
		return fmt.Errorf("cleansing fraction must be in (0, 1], got %v", c.FracCleansing)
	}

	return nil
}

// DerivedBackgroundPath returns the conventional background stack path
// for an input stack: "m.dcs" becomes "m_bg.dcs".
func DerivedBackgroundPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_bg" + ext
}

// DerivedOutputPath returns the conventional event output path for an
// input stack: "m.dcs" becomes "m.events.ndjson".
func DerivedOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".events.ndjson"
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setSignedFloat sets a float64 value if non-zero and flag not
// changed. Used for the segmentation threshold, which is negative.
func (s *configSetter) setSignedFloat(flag string, value float64, dst *float64) {
	if value == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setSignedFloatFromString parses a string to float64 and sets the
// destination if non-zero. Used for the segmentation threshold.
func (s *configSetter) setSignedFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f == 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
