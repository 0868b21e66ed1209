// Package recorder appends served quotes to the history table. Quotes
// are queued in memory and written in batches so the hot path never
// waits on the database.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/ib-quotes/internal/model"
)

// ErrStopped is returned by HandleQuote after shutdown.
var ErrStopped = errors.New("recorder stopped")

// BatchSender is the slice of pgxpool.Pool the recorder needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds recorder settings.
type Config struct {
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max age of a queued quote
	BufferSize    int           // initial queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    4096,
	}
}

// Metrics counts recorder activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// Recorder is the quote history writer. It satisfies watch.QuoteHandler.
type Recorder struct {
	cfg    Config
	db     BatchSender
	logger *slog.Logger

	queue *queue
	kick  chan struct{}

	metricsMu sync.Mutex
	metrics   Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a recorder writing through db.
func New(cfg Config, db BatchSender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		queue:  newQueue(cfg.BufferSize),
		kick:   make(chan struct{}, 1),
	}
}

// Start begins the flush loop.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue and shuts the flush loop down.
func (r *Recorder) Stop(ctx context.Context) error {
	r.queue.close()
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	// Final flush of whatever arrived before close.
	r.flushAll(context.Background())
	r.logger.Info("recorder stopped")
	return nil
}

// HandleQuote enqueues one quote for the next batch.
func (r *Recorder) HandleQuote(q model.Quote) error {
	if !r.queue.push(q) {
		return ErrStopped
	}
	if r.queue.len() >= r.cfg.BatchSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	return r.metrics
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.kick:
			r.flushAll(r.ctx)
		case <-ticker.C:
			r.flushAll(r.ctx)
		}
	}
}

// flushAll drains the queue in batch-sized chunks.
func (r *Recorder) flushAll(ctx context.Context) {
	for {
		rows := r.queue.drain(r.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}
		r.insert(ctx, rows)
	}
}

func (r *Recorder) insert(ctx context.Context, quotes []model.Quote) {
	start := time.Now()

	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(insertQuoteSQL, quoteArgs(q)...)
	}

	conflicts, err := r.send(ctx, batch, len(quotes))
	if err != nil {
		r.logger.Error("quote batch insert failed", "error", err, "count", len(quotes))
		r.metricsMu.Lock()
		r.metrics.Errors++
		r.metricsMu.Unlock()
		return
	}

	r.metricsMu.Lock()
	r.metrics.Inserts += int64(len(quotes) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.metricsMu.Unlock()

	r.logger.Debug("flushed quotes",
		"count", len(quotes),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (r *Recorder) send(ctx context.Context, batch *pgx.Batch, n int) (conflicts int, err error) {
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < n; i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

const insertQuoteSQL = `
	INSERT INTO quotes (recorded_at, instrument, symbol, expiry, strike, contract_right, session, last, bid, ask, close, delta, gamma, vega, theta, iv)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (instrument, recorded_at) DO NOTHING
`

// quoteArgs flattens a quote into insert arguments. Optional fields pass
// through as NULL; the strike travels as its exact decimal string.
func quoteArgs(q model.Quote) []any {
	var expiry, strike, right *string
	if q.Instrument.IsOption() {
		e := q.Instrument.Expiry
		s := q.Instrument.Strike.String()
		rt := string(q.Instrument.Right)
		expiry, strike, right = &e, &s, &rt
	}

	return []any{
		q.Timestamp,
		q.Instrument.Key(),
		q.Instrument.Symbol,
		expiry,
		strike,
		right,
		string(q.Session),
		q.Last,
		q.Bid,
		q.Ask,
		q.Close,
		q.Greeks.Delta,
		q.Greeks.Gamma,
		q.Greeks.Vega,
		q.Greeks.Theta,
		q.Greeks.IV,
	}
}
