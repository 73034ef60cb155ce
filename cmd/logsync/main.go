package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/cmd/syncrun"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/config"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/engine"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/logging"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		noLock     bool
		flags      config.Config
	)

	root := &cobra.Command{
		Use:           "logsync",
		Short:         "Synchronize AdGuard Home querylogs between instances",
		Long:          "logsync backs up this instance's querylog into a shared directory, merges every instance's shard by time with retention applied, and replaces the live querylog with the result.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return report(err)
			}
			if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				return report(err)
			}
			applyFlags(cmd, &cfg, flags)
			if noLock {
				cfg.Lock = false
			}

			logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return report(err)
			}
			if _, err := syncrun.Run(cmd.Context(), cfg, logger, time.Now); err != nil {
				logger.Error("log synchronization failed", "err", err)
				return err
			}
			return nil
		},
	}

	f := root.Flags()
	f.StringVar(&configPath, "config", "", "Config file (YAML or JSON)")
	f.StringVar(&flags.Name, "name", "", "Current instance nickname")
	f.StringVar(&flags.Path, "path", "", "Path to querylog")
	f.StringVar(&flags.Backup, "backup", "", "Path to backup querylog directory")
	f.Int64Var(&flags.Retention, "retention", config.DefaultRetention, "Retention in seconds (0 keeps everything)")
	f.StringVar(&flags.Pattern, "pattern", "", "Shard file pattern inside the backup directory")
	f.IntVar(&flags.BatchSize, "batch-size", engine.DefaultBatchSize, "Records buffered per shard between inserts")
	f.BoolVar(&flags.CompressBackup, "compress-backup", false, "Store this instance's shard zstd-compressed")
	f.BoolVar(&noLock, "no-lock", false, "Do not lock the backup directory")
	f.DurationVar(&flags.Timeout, "timeout", 0, "Abort the sync after this long (0 means no limit)")
	f.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&flags.LogFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(newMergeCommand())
	return root
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	set := cmd.Flags().Changed
	if set("name") {
		cfg.Name = flags.Name
	}
	if set("path") {
		cfg.Path = flags.Path
	}
	if set("backup") {
		cfg.Backup = flags.Backup
	}
	if set("retention") {
		cfg.Retention = flags.Retention
	}
	if set("pattern") {
		cfg.Pattern = flags.Pattern
	}
	if set("batch-size") {
		cfg.BatchSize = flags.BatchSize
	}
	if set("compress-backup") {
		cfg.CompressBackup = flags.CompressBackup
	}
	if set("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
}

func newMergeCommand() *cobra.Command {
	var (
		output    string
		retention int64
		batchSize int
		compress  bool
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "merge SHARD...",
		Short: "Merge querylog shards into one time-ordered log",
		Long:  "merge reads the given shards and writes them as one time-ordered log. Output goes to stdout only once the whole merge has succeeded; with -o a failed merge leaves no file behind.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(os.Stderr, logLevel, "text")
			if err != nil {
				return report(err)
			}

			cutoff := engine.RetentionCutoff(time.Now(), retention)

			// Stdout cannot be retracted, so hold it until the merge succeeds.
			var sink storage.Sink = storage.WriterSink{W: cmd.OutOrStdout(), Hold: true}
			if output != "" && output != "-" {
				sink = storage.FileSink{Path: output, Compress: compress}
			}

			m := engine.New(engine.Options{BatchSize: batchSize, Logger: logger})
			if _, err := m.Merge(cmd.Context(), args, cutoff, sink); err != nil {
				logger.Error("merge failed", "err", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "-", "Output file (- for stdout)")
	f.Int64Var(&retention, "retention", 0, "Retention in seconds (0 keeps everything)")
	f.IntVar(&batchSize, "batch-size", engine.DefaultBatchSize, "Records buffered per shard between inserts")
	f.BoolVar(&compress, "zstd", false, "zstd-compress the output file")
	f.StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	return cmd
}

func report(err error) error {
	fmt.Fprintln(os.Stderr, "logsync:", err)
	return err
}
