// Package syncrun is the full sync sequence shared by the CLI: check paths,
// lock the backup directory, back up, discover shards, merge, publish and
// record the run.
package syncrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/config"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/engine"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/querylog"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/storage"
)

// Summary describes a completed sync.
type Summary struct {
	RunID  string
	Shards []string
	Result engine.Result
}

// Run performs one sync for cfg. The live querylog is only replaced after a
// fully successful merge.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (Summary, error) {
	if now == nil {
		now = time.Now
	}
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	if err := querylog.CheckPaths(cfg.Path, cfg.Backup); err != nil {
		return Summary{}, err
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID, "instance", cfg.Name)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var sum Summary
	sync := func() error {
		var err error
		sum, err = runLocked(ctx, cfg, logger, runID, now())
		return err
	}

	logger.Info("starting log synchronization", "path", cfg.Path, "backup", cfg.Backup)
	var err error
	if cfg.Lock {
		err = querylog.WithLock(ctx, cfg.Backup, logger, sync)
	} else {
		err = sync()
	}
	if err != nil {
		return sum, err
	}
	logger.Info("log synchronization completed",
		"records", sum.Result.Records,
		"size", humanize.Bytes(uint64(sum.Result.Bytes)),
		"digest", sum.Result.Digest)
	return sum, nil
}

func runLocked(ctx context.Context, cfg config.Config, logger *slog.Logger, runID string, start time.Time) (Summary, error) {
	sum := Summary{RunID: runID}

	// 1. Backup the live querylog as this instance's shard
	shard, err := querylog.Backup(cfg.Path, cfg.Backup, cfg.Name, cfg.CompressBackup)
	if err != nil {
		return sum, err
	}
	logger.Info("backed up querylog", "shard", shard)

	// 2. Find every instance's shard
	paths, err := querylog.Discover(cfg.Backup, cfg.Pattern)
	if err != nil {
		return sum, err
	}
	sum.Shards = paths
	logger.Info("found querylog shards", "count", len(paths))

	// 3. Merge into a temp file beside the live log
	cutoff := cfg.Cutoff(start)
	if cutoff.IsZero() {
		logger.Info("retention disabled")
	} else {
		logger.Info("applying retention", "cutoff", cutoff.UTC().Format(time.RFC3339))
	}

	tmp := querylog.TempPath(cfg.Path)
	m := engine.New(engine.Options{BatchSize: cfg.BatchSize, Logger: logger})
	res, err := m.Merge(ctx, paths, cutoff, storage.FileSink{Path: tmp})
	if err != nil {
		return sum, fmt.Errorf("merge querylogs: %w", err)
	}
	sum.Result = res

	// 4. Publish
	if err := querylog.Publish(tmp, cfg.Path); err != nil {
		os.Remove(tmp)
		return sum, err
	}
	logger.Info("published merged querylog", "path", cfg.Path)

	// 5. Record the run; a failure here does not undo the sync
	run := querylog.InstanceRun{
		RunID:   runID,
		At:      start.UTC(),
		Shards:  len(paths),
		Records: res.Records,
		Bytes:   res.Bytes,
		Digest:  res.Digest,
	}
	if err := querylog.RecordRun(cfg.Backup, cfg.Name, run); err != nil {
		logger.Warn("failed to save run report", "err", err)
	}
	return sum, nil
}
