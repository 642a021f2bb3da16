package main

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/ffmpeg"
	"github.com/keagan/movescope/internal/jobs"
	"github.com/keagan/movescope/internal/pipeline"
	"github.com/keagan/movescope/internal/pose"
	"github.com/keagan/movescope/internal/progress"
	"github.com/rs/zerolog/log"
)

// app is the wiring shared by the commands that process videos.
type app struct {
	cfg     *config.Config
	exec    *ffmpeg.Executor
	pipe    *pipeline.Pipeline
	store   jobs.Store
	manager *jobs.Manager
	mqtt    mqtt.Client
}

type appOptions struct {
	fps *float64
	// sink adds a per-job progress sink next to MQTT, or nil.
	sink func(jobID string) progress.Sink
}

func newApp(ctx context.Context, cfg *config.Config, ao appOptions) (*app, error) {
	exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Analysis:    cfg.Analysis,
		Overlay:     cfg.Overlay,
		FPSOverride: ao.fps,
	}
	poseCfg := cfg.Pose
	detectors := func(ctx context.Context) (pose.Detector, error) {
		return pose.Open(ctx, log.Logger, poseCfg)
	}
	pipe, err := pipeline.New(log.Logger, pipeline.NewFFmpegMedia(log.Logger, exec), detectors, opts)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, exec: exec, pipe: pipe, store: store}

	if cfg.MQTT.Enabled() {
		client, err := progress.ConnectMQTT(log.Logger, cfg.MQTT)
		if err != nil {
			// Progress publishing is optional; the run continues without it.
			cliLog.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt progress disabled")
		} else {
			a.mqtt = client
		}
	}

	manager, err := jobs.NewManager(log.Logger, store, pipe, jobs.ManagerOptions{
		OutputDir:     cfg.OutputDir,
		Concurrency:   cfg.Concurrency,
		KeepLandmarks: cfg.KeepLandmarks,
		MinInterval:   cfg.Progress.MinInterval,
		Milestones:    cfg.Progress.Milestones,
		Buffer:        cfg.Progress.Buffer,
		Sinks:         a.sinks(ao.sink),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	a.manager = manager
	return a, nil
}

func (a *app) sinks(extra func(string) progress.Sink) func(string) progress.Sink {
	return func(id string) progress.Sink {
		var multi progress.Multi
		if extra != nil {
			multi = append(multi, extra(id))
		}
		if a.mqtt != nil {
			multi = append(multi, progress.NewMQTTSink(log.Logger, a.mqtt, a.cfg.MQTT, id))
		}
		if len(multi) == 0 {
			return nil
		}
		return multi
	}
}

func (a *app) Close() {
	a.manager.Shutdown()
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
	if err := a.store.Close(); err != nil {
		cliLog.Warn().Err(err).Msg("failed to close job store")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		store, err := jobs.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
		return store, nil
	default:
		return jobs.NewMemoryStore(), nil
	}
}
