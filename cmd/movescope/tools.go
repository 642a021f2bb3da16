package main

import (
	"fmt"
	"os"

	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/ffmpeg"
	"github.com/keagan/movescope/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	thumbAt    string
	thumbWidth int
	thumbOut   string
	forceInit  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Print the probed video properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg)
		if err != nil {
			return err
		}
		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"path":              info.FilePath,
			"width":             info.Width,
			"height":            info.Height,
			"fps":               info.FPS,
			"duration":          info.Duration.Seconds(),
			"frame_count":       info.FrameCount,
			"frame_count_exact": info.FrameCountExact,
			"rotation":          info.Rotation,
			"video_codec":       info.VideoCodec,
			"has_audio":         info.HasAudio,
		})
	},
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail [video]",
	Short: "Write a JPEG preview frame, e.g. of an analyzed video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		at, err := util.ParseTimestamp(thumbAt)
		if err != nil {
			return err
		}
		out := thumbOut
		if out == "" {
			if err := util.EnsureDir(cfg.OutputDir); err != nil {
				return err
			}
			out = util.SiblingPath(cfg.OutputDir, "thumb_", args[0], ".jpg")
		}

		exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg)
		if err != nil {
			return err
		}
		err = exec.GenerateThumbnail(cmd.Context(), args[0], out, ffmpeg.ThumbnailOptions{
			Timestamp: at,
			MaxWidth:  thumbWidth,
		})
		if err != nil {
			return err
		}
		cliLog.Info().Str("thumbnail", out).Str("at", util.FormatDuration(at)).Msg("thumbnail written")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "movescope.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
		return nil
	},
}

func init() {
	thumbnailCmd.Flags().StringVar(&thumbAt, "at", "0", "timestamp of the frame (SS, MM:SS or HH:MM:SS)")
	thumbnailCmd.Flags().IntVar(&thumbWidth, "width", 640, "maximum thumbnail width")
	thumbnailCmd.Flags().StringVar(&thumbOut, "out", "", "output path (default: <output_dir>/thumb_<name>.jpg)")

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
