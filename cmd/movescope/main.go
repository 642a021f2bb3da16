package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool

	// cliLog is replaced once logging is initialized.
	cliLog = zerolog.Nop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "movescope",
	Short:         "movescope - movement analysis for dance and exercise videos",
	Long:          "Detects body pose in every frame of a video, scores movement, rhythm and smoothness, and renders a skeleton overlay.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(verbose, jsonOutput)
		cliLog = logging.WithComponent("cli")

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./movescope.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "log-json", false, "log as JSON instead of console text")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(analyzeLandmarksCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(thumbnailCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}
