package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/model"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/storage"
)

// DefaultBatchSize is how many accepted records an ingestor buffers
// before taking the accumulator lock.
const DefaultBatchSize = 10000

// RecordError is a fatal per-line condition that aborts the merge.
type RecordError struct {
	Path string
	Line int64
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// ShardStats counts what an ingestor saw in one shard.
type ShardStats struct {
	Path      string
	Lines     int64
	Accepted  int64
	Blank     int64
	Malformed int64
	Expired   int64
	Bytes     int64
}

// Ingestor streams one shard into a shared accumulator.
type Ingestor struct {
	parser    *Parser
	acc       *Accumulator
	batchSize int
	cutoff    time.Time
}

// NewIngestor returns an ingestor feeding acc. batchSize <= 0 selects
// DefaultBatchSize.
func NewIngestor(parser *Parser, acc *Accumulator, cutoff time.Time, batchSize int) *Ingestor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Ingestor{
		parser:    parser,
		acc:       acc,
		batchSize: batchSize,
		cutoff:    cutoff,
	}
}

// Ingest reads path to the end. A fatal record stops it at once and the
// partial batch is discarded.
func (in *Ingestor) Ingest(ctx context.Context, path string) (ShardStats, error) {
	stats := ShardStats{Path: path}

	it, err := storage.OpenShard(path)
	if err != nil {
		return stats, err
	}
	defer it.Close()

	batch := make([]model.LogRecord, 0, in.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := in.acc.InsertBatch(batch); err != nil {
			return fmt.Errorf("insert batch from %s: %w", path, err)
		}
		batch = batch[:0]
		return nil
	}

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line := it.Line()
		stats.Lines++
		stats.Bytes += int64(len(line)) + 1

		d := in.parser.Parse(line, in.cutoff)
		switch d.Verdict {
		case Fatal:
			return stats, &RecordError{Path: path, Line: stats.Lines, Err: d.Err}
		case Skip:
			switch d.Reason {
			case SkipBlank:
				stats.Blank++
			case SkipMalformed:
				stats.Malformed++
			case SkipExpired:
				stats.Expired++
			}
			continue
		}

		batch = append(batch, d.Record)
		stats.Accepted++
		if len(batch) >= in.batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := it.Error(); err != nil {
		return stats, err
	}

	return stats, flush()
}
