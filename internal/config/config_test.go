package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keagan/movescope/internal/pose"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Concurrency != 2 || cfg.Pose.Backend != pose.BackendWorker {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movescope.yaml")
	yaml := `
output_dir: /srv/movescope
concurrency: 4
pose:
  backend: replay
  replay_path: /tmp/landmarks.json
analysis:
  thresholds:
    standing: 0.02
    walking: 0.04
    dancing: 0.08
    jumping: 0.15
progress:
  min_interval: 2s
mqtt:
  broker: localhost:1883
cleanup:
  max_age: 48h
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OutputDir != "/srv/movescope" || cfg.Concurrency != 4 {
		t.Errorf("core settings not applied: %+v", cfg)
	}
	if cfg.Pose.Backend != pose.BackendReplay || cfg.Pose.MinDetectionConfidence != 0.5 {
		t.Errorf("pose section not merged: %+v", cfg.Pose)
	}
	if cfg.Analysis.Thresholds.Jumping != 0.15 || cfg.Analysis.CrouchHeight != 0.65 {
		t.Errorf("analysis section not merged: %+v", cfg.Analysis)
	}
	if cfg.Progress.MinInterval != 2*time.Second || cfg.Progress.Buffer != 16 {
		t.Errorf("progress section not merged: %+v", cfg.Progress)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.TopicPrefix != "movescope/progress" {
		t.Errorf("mqtt section not merged: %+v", cfg.MQTT)
	}
	if cfg.Cleanup.MaxAge != 48*time.Hour || cfg.Cleanup.Interval != time.Hour {
		t.Errorf("cleanup section not merged: %+v", cfg.Cleanup)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	yaml := `
analysis:
  thresholds:
    standing: 0.05
    walking: 0.03
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	if err := os.WriteFile(path, []byte("concurrency: [1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"output dir", func(c *Config) { c.OutputDir = "" }},
		{"pose complexity", func(c *Config) { c.Pose.ModelComplexity = 5 }},
		{"crouch majority", func(c *Config) { c.Analysis.CrouchMajority = 0 }},
		{"overlay bands", func(c *Config) { c.Overlay.MediumConfidence = 0.9 }},
		{"crf", func(c *Config) { c.FFmpeg.CRF = 60 }},
		{"milestone", func(c *Config) { c.Progress.Milestones = []float64{1.5} }},
		{"storage backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres url", func(c *Config) { c.Storage.Backend = StoragePostgres }},
		{"cleanup", func(c *Config) { c.Cleanup.MaxAge = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Concurrency = 3
	cfg.Overlay.StatusBox = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Concurrency != 3 || !loaded.Overlay.StatusBox {
		t.Errorf("round trip lost settings: %+v", loaded)
	}
	if loaded.Pose.FrameTimeout != cfg.Pose.FrameTimeout {
		t.Errorf("expected frame timeout %v, got %v", cfg.Pose.FrameTimeout, loaded.Pose.FrameTimeout)
	}
}

func TestContextCarrier(t *testing.T) {
	cfg := defaultConfig()
	cfg.Concurrency = 7
	ctx := WithConfig(context.Background(), cfg)
	if FromContext(ctx).Concurrency != 7 {
		t.Error("expected stored config")
	}
	if FromContext(context.Background()).Concurrency != 2 {
		t.Error("expected defaults without stored config")
	}
}
