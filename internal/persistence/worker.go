package persistence

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/observability"
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// JournalWorker batches journal entries off a channel and flushes them
// to Postgres, either when the batch fills or the flush timeout fires.
// Record never blocks the ledger path: when the buffer is full the
// entry is dropped and counted. The journal is an audit trail, not the
// source of truth; account rows already committed.
type JournalWorker struct {
	db           *sql.DB
	input        chan ledger.JournalEntry
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewJournalWorker(db *sql.DB, buffer, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics) *JournalWorker {
	return &JournalWorker{
		db:           db,
		input:        make(chan ledger.JournalEntry, buffer),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("journal"),
	}
}

// Record implements ledger.JournalSink.
func (w *JournalWorker) Record(e ledger.JournalEntry) {
	select {
	case w.input <- e:
	default:
		if w.metrics != nil {
			w.metrics.JournalDrops.Inc()
		}
		w.log.Warn().Str("kind", e.Kind).Int64("actor", int64(e.Actor)).
			Msg("journal buffer full, entry dropped")
	}
}

// Run drains the channel until ctx is cancelled, then flushes what is
// left with a background context so shutdown does not lose the tail.
func (w *JournalWorker) Run(ctx context.Context) error {
	batch := make([]JournalRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainInto(&batch)
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("final journal flush failed")
				}
			}
			return ctx.Err()

		case e := <-w.input:
			batch = append(batch, rowFromEntry(e))
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// drainInto empties whatever is still buffered in the channel.
func (w *JournalWorker) drainInto(batch *[]JournalRow) {
	for {
		select {
		case e := <-w.input:
			*batch = append(*batch, rowFromEntry(e))
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write lands
// or the context is cancelled, in which case one final attempt runs on
// a background context.
func (w *JournalWorker) flushWithRetry(ctx context.Context, rows []JournalRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.JournalRetries.Inc()
			}
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("rows", len(rows)).Msg("journal flush retrying")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					w.log.Error().Err(err).Int("rows", len(rows)).Msg("journal flush lost on shutdown")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, rows); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt+1).Msg("journal flush recovered")
			}
			return
		} else {
			w.log.Error().Err(err).Msg("journal flush failed")
		}
	}
}

func (w *JournalWorker) flush(ctx context.Context, rows []JournalRow) error {
	start := time.Now()
	if err := writeJournalBatch(ctx, w.db, rows); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.JournalRowsWritten.Add(float64(len(rows)))
		w.metrics.JournalBatchSize.Observe(float64(len(rows)))
		w.metrics.JournalBatchDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}
