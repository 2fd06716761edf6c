package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				InputPath:   "/data/m1.dcs",
				ChunkSize:   500,
				PixelSize:   0.26,
				Thresh:      -4,
				SettleDelay: "2s",
				Haralick:    &falseVal,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				InputPath:   "/data/m1.dcs",
				ChunkSize:   500,
				PixelSize:   0.26,
				Thresh:      -4,
				SettleDelay: 2 * time.Second,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				InputPath: "/file/m1.dcs",
				ChunkSize: 500,
			},
			changed: map[string]bool{"input": true},
			initial: Config{
				InputPath: "/flag/m1.dcs",
			},
			expected: Config{
				InputPath: "/flag/m1.dcs", // unchanged because flag was set
				ChunkSize: 500,
			},
		},
		{
			name: "handles all field types correctly",
			fileConfig: FileConfig{
				InputPath:       "/data/m1.dcs",
				BackgroundPath:  "/data/m1_bg.dcs",
				OutputPath:      "/data/out.ndjson",
				WatchDir:        "/data/incoming",
				WatchExt:        ".dcs",
				SettleDelay:     "750ms",
				ChunkSize:       250,
				CacheSize:       3,
				NumSlots:        4,
				NumWorkers:      8,
				Debug:           &trueVal,
				PixelSize:       0.5,
				Brightness:      &falseVal,
				Haralick:        &trueVal,
				Thresh:          -3,
				ClearBorder:     &falseVal,
				FillHoles:       &trueVal,
				ClosingDisk:     1,
				KernelSize:      100,
				SplitTime:       2,
				ThreshCleansing: 0.1,
				FracCleansing:   0.9,
				BgWorkers:       2,
				SizeThreshMask:  5,
				LogLevel:        "debug",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				InputPath:       "/data/m1.dcs",
				BackgroundPath:  "/data/m1_bg.dcs",
				OutputPath:      "/data/out.ndjson",
				WatchDir:        "/data/incoming",
				WatchExt:        ".dcs",
				SettleDelay:     750 * time.Millisecond,
				ChunkSize:       250,
				CacheSize:       3,
				NumSlots:        4,
				NumWorkers:      8,
				Debug:           true,
				PixelSize:       0.5,
				Brightness:      false,
				Haralick:        true,
				Thresh:          -3,
				ClearBorder:     false,
				FillHoles:       true,
				ClosingDisk:     1,
				KernelSize:      100,
				SplitTime:       2,
				ThreshCleansing: 0.1,
				FracCleansing:   0.9,
				BgWorkers:       2,
				SizeThreshMask:  5,
				LogLevel:        "debug",
			},
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				SettleDelay: "not-a-duration",
			},
			changed: map[string]bool{},
			initial: Config{},
			wantErr: true,
		},
		{
			name: "skips zero and empty values",
			fileConfig: FileConfig{
				ChunkSize: 0,
				PixelSize: 0,
				Thresh:    0,
			},
			changed: map[string]bool{},
			initial: Config{
				ChunkSize: 1000,
				PixelSize: 0.34,
				Thresh:    -6,
			},
			expected: Config{
				ChunkSize: 1000,
				PixelSize: 0.34,
				Thresh:    -6,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() error = %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
input = "/data/m1.dcs"
chunk_size = 500
thresh = -4.5
brightness = false
settle_delay = "1s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}
	if fc.InputPath != "/data/m1.dcs" {
		t.Errorf("InputPath = %v", fc.InputPath)
	}
	if fc.ChunkSize != 500 {
		t.Errorf("ChunkSize = %v", fc.ChunkSize)
	}
	if fc.Thresh != -4.5 {
		t.Errorf("Thresh = %v", fc.Thresh)
	}
	if fc.Brightness == nil || *fc.Brightness {
		t.Errorf("Brightness = %v, want false", fc.Brightness)
	}
	if fc.SettleDelay != "1s" {
		t.Errorf("SettleDelay = %v", fc.SettleDelay)
	}
}

func TestLoadFileConfig_Errors(t *testing.T) {
	if _, err := LoadFileConfig("/nonexistent/config.toml"); err == nil {
		t.Error("expected error for missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("chunk_size = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(path); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if FileExists(path) {
		t.Error("FileExists() = true for missing file")
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists() = false for existing file")
	}
}
