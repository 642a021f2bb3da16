package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/jobs"
	"github.com/keagan/movescope/internal/landmark"
	"github.com/keagan/movescope/internal/logging"
	"github.com/keagan/movescope/internal/pipeline"
	"github.com/keagan/movescope/internal/pose"
	"github.com/keagan/movescope/internal/progress"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	outputDir     string
	fpsOverride   float64
	replayPath    string
	backend       string
	keepLandmarks bool
	noProgress    bool
	printJSON     bool
	resultsOut    string
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

// applyRunFlags folds the per-run flags into the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) (*float64, error) {
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if keepLandmarks {
		cfg.KeepLandmarks = true
	}
	if backend != "" {
		cfg.Pose.Backend = backend
	}
	if replayPath != "" {
		cfg.Pose.Backend = pose.BackendReplay
		cfg.Pose.ReplayPath = replayPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cmd.Flags().Changed("fps") {
		if cfg.Pose.Backend == pose.BackendReplay {
			return replayFPS(cfg.Pose.ReplayPath)
		}
		return nil, nil
	}
	if fpsOverride <= 0 {
		return nil, fmt.Errorf("--fps must be positive, got %v", fpsOverride)
	}
	fps := fpsOverride
	return &fps, nil
}

// replayFPS returns the rate a landmark dump was recorded at, so replayed
// poses line up with the frames they were detected on.
func replayFPS(path string) (*float64, error) {
	det, err := pose.NewReplayDetector(log.Logger, path)
	if err != nil {
		return nil, err
	}
	defer det.Close()
	fps := det.FPS()
	if fps <= 0 {
		return nil, nil
	}
	return &fps, nil
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for the rendered video and results")
	cmd.Flags().Float64Var(&fpsOverride, "fps", 0, "process at this frame rate instead of the probed one")
	cmd.Flags().StringVar(&backend, "backend", "", "pose backend: worker, onnx or replay")
	cmd.Flags().StringVar(&replayPath, "landmarks", "", "replay poses from a landmark dump instead of detecting")
	cmd.Flags().BoolVar(&keepLandmarks, "keep-landmarks", false, "write the per-frame landmark dump next to the results")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [input video]",
	Short: "Analyze movement in a video and render the skeleton overlay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		fps, err := applyRunFlags(cmd, cfg)
		if err != nil {
			return err
		}

		var bar *progress.BarSink
		ao := appOptions{fps: fps}
		if !noProgress && logging.IsTerminal(os.Stderr) {
			ao.sink = func(string) progress.Sink {
				bar = progress.NewBarSink(os.Stderr, filepath.Base(args[0]))
				return bar
			}
		}

		a, err := newApp(cmd.Context(), cfg, ao)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.manager.Run(cmd.Context(), args[0])
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		return reportJob(cmd.OutOrStdout(), job)
	},
}

func reportJob(w io.Writer, job *jobs.Job) error {
	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
	}
	if printJSON {
		return writeJSON(w, job.Result)
	}

	r := job.Result
	cliLog.Info().
		Str("job", job.ID).
		Str("video", job.OutputPath).
		Str("results", job.ResultsPath).
		Str("movement", string(r.MovementAnalysis.MovementType)).
		Float64("intensity", r.MovementAnalysis.Intensity).
		Float64("bpm", r.RhythmAnalysis.EstimatedBPM).
		Float64("smoothness", r.SmoothnessScore).
		Float64("detection_rate", r.Processing.DetectionRate).
		Str("most_active", r.Summary.MostActiveBodyPart).
		Msg("analysis complete")
	return nil
}

var analyzeLandmarksCmd = &cobra.Command{
	Use:   "analyze-landmarks [landmark dump]",
	Short: "Re-run movement analysis on a saved landmark dump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		seq, err := landmark.LoadFile(args[0])
		if err != nil {
			return err
		}
		result, err := pipeline.AnalyzeLandmarks(log.Logger, cfg.Analysis, seq, args[0])
		if err != nil {
			return err
		}

		if resultsOut == "" {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		f, err := os.Create(resultsOut)
		if err != nil {
			return err
		}
		if err := writeJSON(f, result); err != nil {
			f.Close()
			return err
		}
		cliLog.Info().Str("results", resultsOut).Int("frames", seq.Len()).Msg("analysis written")
		return f.Close()
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [videos or directories...]",
	Short: "Analyze many videos with bounded concurrency",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		fps, err := applyRunFlags(cmd, cfg)
		if err != nil {
			return err
		}

		inputs, err := collectVideos(args)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return fmt.Errorf("no videos found in %s", strings.Join(args, ", "))
		}

		a, err := newApp(cmd.Context(), cfg, appOptions{
			fps: fps,
			sink: func(string) progress.Sink {
				return progress.NewLogSink(log.Logger)
			},
		})
		if err != nil {
			return err
		}
		defer a.Close()

		cliLog.Info().Int("videos", len(inputs)).Int("concurrency", cfg.Concurrency).Msg("starting batch")

		var (
			mu     sync.Mutex
			failed []string
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(cfg.Concurrency)
		for _, input := range inputs {
			input := input
			g.Go(func() error {
				job, err := a.manager.Run(ctx, input)
				if err == nil {
					err = reportJob(cmd.OutOrStdout(), job)
				}
				if err != nil {
					// One bad video does not stop the batch.
					cliLog.Error().Err(err).Str("input", input).Msg("analysis failed")
					mu.Lock()
					failed = append(failed, input)
					mu.Unlock()
				}
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if len(failed) > 0 {
			sort.Strings(failed)
			return fmt.Errorf("%d of %d videos failed: %s", len(failed), len(inputs), strings.Join(failed, ", "))
		}
		cliLog.Info().Int("videos", len(inputs)).Msg("batch complete")
		return nil
	},
}

// collectVideos expands directories one level deep and keeps files with
// a known video extension.
func collectVideos(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			inputs = append(inputs, filepath.Join(arg, e.Name()))
		}
	}
	return inputs, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	addRunFlags(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&printJSON, "json", false, "print the analysis result as JSON")

	addRunFlags(batchCmd)
	batchCmd.Flags().BoolVar(&printJSON, "json", false, "print each analysis result as JSON")

	analyzeLandmarksCmd.Flags().StringVar(&resultsOut, "out", "", "write the result to this file instead of stdout")
}
