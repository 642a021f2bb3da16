package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/keagan/movescope/internal/config"
	"github.com/keagan/movescope/internal/jobs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cleanupMaxAge time.Duration
	cleanupWatch  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage recorded analysis jobs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		cfg := config.FromContext(cmd.Context())
		if cfg.Storage.Backend == config.StorageMemory {
			cliLog.Warn().Msg("memory storage keeps no jobs between invocations; set storage.backend to postgres")
		}
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tPROGRESS\tUPDATED")
		for _, j := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n",
				j.ID, j.Filename, j.Status, j.Progress*100, j.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [job id]",
	Short: "Print a job and its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		job, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if job.Result == nil && job.Status == jobs.StatusCompleted && job.ResultsPath != "" {
			if result, err := jobs.ReadResults(job.ResultsPath); err == nil {
				job.Result = result
			}
		}
		return writeJSON(cmd.OutOrStdout(), job)
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete [job id]",
	Short: "Delete a job and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		manager, err := jobs.NewManager(log.Logger, store, nil, jobs.ManagerOptions{
			OutputDir:   cfg.OutputDir,
			Concurrency: cfg.Concurrency,
		})
		if err != nil {
			return err
		}
		if err := manager.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cliLog.Info().Str("job", args[0]).Msg("job deleted")
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than the retention age",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		maxAge := cfg.Cleanup.MaxAge
		if cmd.Flags().Changed("max-age") {
			maxAge = cleanupMaxAge
		}
		if maxAge <= 0 {
			return fmt.Errorf("max age must be positive")
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cleaner := jobs.NewCleaner(log.Logger, store, maxAge, cfg.Cleanup.Interval)
		if cleanupWatch {
			if cfg.Cleanup.Interval <= 0 {
				return fmt.Errorf("cleanup.interval must be positive for --watch")
			}
			cliLog.Info().Dur("max_age", maxAge).Dur("interval", cfg.Cleanup.Interval).Msg("cleaning up until interrupted")
			cleaner.Start(cmd.Context())
			return nil
		}

		n, err := cleaner.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		cliLog.Info().Int("deleted", n).Msg("cleanup complete")
		return nil
	},
}

func init() {
	jobsCleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "override cleanup.max_age")
	jobsCleanupCmd.Flags().BoolVar(&cleanupWatch, "watch", false, "keep running every cleanup.interval")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)
}
