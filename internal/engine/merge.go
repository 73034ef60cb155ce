package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/storage"
)

// Options configures a Merger.
type Options struct {
	// BatchSize caps records buffered per shard between lock acquisitions.
	BatchSize int
	Logger    *slog.Logger
}

// Result summarizes a successful merge.
type Result struct {
	Records int64
	Bytes   int64
	Digest  string
	Shards  []ShardStats
	Elapsed time.Duration
}

// Merger merges querylog shards into one time-ordered stream.
type Merger struct {
	parser    *Parser
	batchSize int
	log       *slog.Logger
}

// New creates a Merger.
func New(opts Options) *Merger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Merger{
		parser:    NewParser(),
		batchSize: batch,
		log:       logger,
	}
}

// Merge ingests every shard concurrently, then writes the records to sink
// in ascending (timestamp, line) order. Records older than cutoff are
// dropped; NoCutoff keeps them all. If any shard fails the sink is never
// opened.
func (m *Merger) Merge(ctx context.Context, paths []string, cutoff time.Time, sink storage.Sink) (Result, error) {
	start := time.Now()
	acc := NewAccumulator()
	shards := make([]ShardStats, len(paths))

	// 1. Ingest all shards, one goroutine each
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			in := NewIngestor(m.parser, acc, cutoff, m.batchSize)
			stats, err := in.Ingest(gctx, path)
			shards[i] = stats
			if err != nil {
				return err
			}
			m.log.Debug("shard ingested",
				"shard", path,
				"lines", stats.Lines,
				"accepted", stats.Accepted,
				"expired", stats.Expired,
				"size", humanize.Bytes(uint64(stats.Bytes)))
			if stats.Malformed > 0 {
				m.log.Warn("dropped malformed lines", "shard", path, "count", stats.Malformed)
			}
			return nil
		})
	}

	// 2. Barrier: nothing is traversed until every ingestor is done
	if err := g.Wait(); err != nil {
		m.logFailure(err)
		return Result{Shards: shards}, err
	}

	// 3. Single ordered traversal into the sink
	cur, err := acc.Traverse()
	if err != nil {
		return Result{Shards: shards}, err
	}
	ws, err := writeCursor(ctx, cur, sink)
	if err != nil {
		return Result{Shards: shards}, err
	}

	res := Result{
		Records: ws.Records,
		Bytes:   ws.Bytes,
		Digest:  ws.Digest,
		Shards:  shards,
		Elapsed: time.Since(start),
	}
	m.log.Info("merge complete",
		"shards", len(paths),
		"records", res.Records,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// MergeBytes merges into memory and returns the output.
func (m *Merger) MergeBytes(ctx context.Context, paths []string, cutoff time.Time) ([]byte, Result, error) {
	var sink storage.BufferSink
	res, err := m.Merge(ctx, paths, cutoff, &sink)
	if err != nil {
		return nil, res, err
	}
	return sink.Bytes(), res, nil
}

func writeCursor(ctx context.Context, cur *Cursor, sink storage.Sink) (storage.WriteStats, error) {
	w, err := sink.Open()
	if err != nil {
		return storage.WriteStats{}, err
	}
	for cur.Next() {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return storage.WriteStats{}, err
		}
		if err := w.WriteRecord(cur.Record().Payload); err != nil {
			w.Abort()
			return storage.WriteStats{}, err
		}
	}
	return w.Commit()
}

func (m *Merger) logFailure(err error) {
	var rerr *RecordError
	switch {
	case errors.As(err, &rerr):
		// Malformed envelopes are dropped but bad timestamps abort the run.
		// Keep this loud until the asymmetry is settled.
		m.log.Error("merge aborted by record without usable timestamp",
			"shard", rerr.Path,
			"line", rerr.Line,
			"err", rerr.Err,
			"hint", fmt.Sprintf("lines that are not JSON are skipped, but every JSON line needs a valid %q", TimestampField))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.log.Warn("merge cancelled", "err", err)
	default:
		m.log.Error("merge failed", "err", err)
	}
}
