package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/livedata/internal/subscription"
)

// Table is the journal table name.
const Table = "subscription_transitions"

const schema = `
CREATE TABLE IF NOT EXISTS subscription_transitions (
	event_id    UUID PRIMARY KEY,
	instance_id TEXT NOT NULL,
	key         TEXT NOT NULL,
	channel     TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS subscription_transitions_key_at ON subscription_transitions (key, at);
`

var columns = []string{"event_id", "instance_id", "key", "channel", "ticker", "from_state", "to_state", "reason", "at"}

// stateUnseen is written for transitions out of the unseen state.
const stateUnseen = "UNSEEN"

// flushTimeout bounds a single copy.
const flushTimeout = 10 * time.Second

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create %s: %w", Table, err)
	}
	return nil
}

// Config configures a Writer.
type Config struct {
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats holds writer counters.
type Stats struct {
	Enqueued  int64
	Dropped   int64
	Inserts   int64
	Discarded int64 // Rows flushed with no database configured
	Errors    int64
	Flushes   int64
}

// row is one journal row.
type row struct {
	EventID    uuid.UUID
	InstanceID string
	Key        string
	Channel    string
	Ticker     string
	From       string
	To         string
	Reason     string
	At         time.Time
}

// Writer batches subscription transitions into the journal table.
// A nil pool discards rows after counting them.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     *pgxpool.Pool

	input chan subscription.Transition

	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Stats
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}

	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  make(chan subscription.Transition, cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// ObserveTransitions enqueues transitions without blocking.
func (w *Writer) ObserveTransitions(ts []subscription.Transition) {
	dropped := 0
	for _, t := range ts {
		select {
		case w.input <- t:
		default:
			dropped++
		}
	}

	w.batchMu.Lock()
	w.metrics.Enqueued += int64(len(ts) - dropped)
	w.metrics.Dropped += int64(dropped)
	w.batchMu.Unlock()

	if dropped > 0 {
		w.logger.Warn("journal buffer full, dropping transitions", "dropped", dropped)
	}
}

// Start begins consuming transitions and writing batches.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"database", w.db != nil,
	)
	return nil
}

// Stop drains buffered transitions and flushes them.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	w.drain()
	w.flush()
	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.input:
			w.add(t)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// drain moves whatever is left in the input buffer into the batch.
func (w *Writer) drain() {
	for {
		select {
		case t := <-w.input:
			w.add(t)
		default:
			return
		}
	}
}

func (w *Writer) add(t subscription.Transition) {
	r := w.transform(t)

	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func (w *Writer) transform(t subscription.Transition) row {
	from := string(t.From)
	if from == "" {
		from = stateUnseen
	}
	return row{
		EventID:    uuid.New(),
		InstanceID: w.cfg.InstanceID,
		Key:        t.Key.String(),
		Channel:    t.Key.Channel,
		Ticker:     t.Key.Ticker,
		From:       from,
		To:         string(t.To),
		Reason:     t.Reason,
		At:         t.At.UTC(),
	}
}

// flush writes the current batch.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.batchMu.Lock()
		w.metrics.Discarded += int64(len(batch))
		w.metrics.Flushes++
		w.batchMu.Unlock()
		return
	}

	start := time.Now()
	n, err := w.copyRows(batch)
	if err != nil {
		w.logger.Error("journal copy failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += n
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed transitions", "count", n, "duration", time.Since(start))
}

// copyRows bulk loads rows with COPY.
func (w *Writer) copyRows(rows []row) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = []any{[16]byte(r.EventID), r.InstanceID, r.Key, r.Channel, r.Ticker, r.From, r.To, r.Reason, r.At}
	}
	return w.db.CopyFrom(ctx, pgx.Identifier{Table}, columns, pgx.CopyFromRows(src))
}
