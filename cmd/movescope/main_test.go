package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/pose"
	"github.com/spf13/cobra"
)

func TestCollectVideos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.MOV", "notes.txt", "c.webm"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.mp4"), 0755); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(t.TempDir(), "clip.bin")
	if err := os.WriteFile(single, nil, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := collectVideos([]string{dir, single})
	if err != nil {
		t.Fatalf("collectVideos failed: %v", err)
	}
	sort.Strings(got)
	want := []string{
		filepath.Join(dir, "a.mp4"),
		filepath.Join(dir, "b.MOV"),
		filepath.Join(dir, "c.webm"),
		single,
	}
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := collectVideos([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestApplyRunFlags(t *testing.T) {
	defer func() { outputDir, replayPath, backend, fpsOverride = "", "", "", 0 }()

	cmd := &cobra.Command{}
	addRunFlags(cmd)
	if err := cmd.ParseFlags([]string{"--landmarks", "dump.json", "-o", "/tmp/out", "--fps", "15"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	fps, err := applyRunFlags(cmd, cfg)
	if err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}
	if fps == nil || *fps != 15 {
		t.Errorf("expected fps override 15, got %v", fps)
	}
	if cfg.Pose.Backend != pose.BackendReplay || cfg.Pose.ReplayPath != "dump.json" || cfg.OutputDir != "/tmp/out" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestApplyRunFlagsUsesReplayFPS(t *testing.T) {
	defer func() { replayPath = "" }()

	dump := filepath.Join(t.TempDir(), "landmarks.json")
	if err := os.WriteFile(dump, []byte(`{"fps": 12.5, "total_frames": 2, "frames": []}`), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := &cobra.Command{}
	addRunFlags(cmd)
	if err := cmd.ParseFlags([]string{"--landmarks", dump}); err != nil {
		t.Fatal(err)
	}
	fps, err := applyRunFlags(cmd, config.Default())
	if err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}
	if fps == nil || *fps != 12.5 {
		t.Errorf("expected the dump rate 12.5 as override, got %v", fps)
	}

	cmd = &cobra.Command{}
	addRunFlags(cmd)
	if err := cmd.ParseFlags([]string{"--landmarks", filepath.Join(t.TempDir(), "missing.json")}); err != nil {
		t.Fatal(err)
	}
	if _, err := applyRunFlags(cmd, config.Default()); err == nil {
		t.Error("expected error for a missing dump")
	}
}

func TestApplyRunFlagsRejectsBadFPS(t *testing.T) {
	defer func() { fpsOverride = 0 }()

	cmd := &cobra.Command{}
	addRunFlags(cmd)
	if err := cmd.ParseFlags([]string{"--fps", "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := applyRunFlags(cmd, config.Default()); err == nil {
		t.Error("expected error for --fps 0")
	}
}

func TestAnalyzeLandmarksCommand(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "landmarks.json")
	if err := os.WriteFile(dump, []byte(`{"fps": 30, "total_frames": 3, "frames": [{"index": 0, "timestamp": 0}]}`), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	analyzeLandmarksCmd.SetOut(&out)
	analyzeLandmarksCmd.SetContext(config.WithConfig(context.Background(), config.Default()))
	if err := analyzeLandmarksCmd.RunE(analyzeLandmarksCmd, []string{dump}); err != nil {
		t.Fatalf("analyze-landmarks failed: %v", err)
	}
	if !strings.Contains(out.String(), `"movement_analysis"`) {
		t.Errorf("expected a result document, got %s", out.String())
	}
}
