// Package watch drives a background quote cycle over a fixed watchlist,
// feeding each result to a handler such as the history recorder.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/ib-quotes/internal/model"
)

// QuoteGetter answers single quote requests.
type QuoteGetter interface {
	GetQuote(ctx context.Context, inst model.Instrument) (model.Quote, error)
}

// QuoteHandler receives watched quotes.
type QuoteHandler interface {
	HandleQuote(q model.Quote) error
}

// QuoteHandlerFunc is a function adapter for QuoteHandler.
type QuoteHandlerFunc func(model.Quote) error

func (f QuoteHandlerFunc) HandleQuote(q model.Quote) error {
	return f(q)
}

// Config holds watcher configuration.
type Config struct {
	Interval time.Duration // cycle interval (default: 30s)
	Timeout  time.Duration // per-instrument request timeout (default: 15s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  15 * time.Second,
	}
}

// Watcher periodically fetches quotes for the watchlist. Instruments are
// walked sequentially: the quote service serializes upstream work anyway,
// so concurrent requests would only queue.
type Watcher struct {
	cfg     Config
	quotes  QuoteGetter
	list    []model.Instrument
	handler QuoteHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Watcher.
func New(cfg Config, quotes QuoteGetter, list []model.Instrument, handler QuoteHandler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		quotes:  quotes,
		list:    list,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the watch loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("watcher started",
		"instruments", len(w.list),
		"interval", w.cfg.Interval,
	)
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Cycle immediately on start.
	w.cycle()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.cycle()
		}
	}
}

// cycle fetches one quote per watched instrument.
func (w *Watcher) cycle() {
	start := time.Now()
	var served, empty, failed int

	for _, inst := range w.list {
		if w.ctx.Err() != nil {
			return
		}

		q, err := w.fetch(inst)
		switch {
		case err != nil:
			w.logger.Warn("watch fetch failed",
				"instrument", inst.String(),
				"error", err,
			)
			failed++
			continue
		case !q.HasPrice():
			empty++
		default:
			served++
		}

		if w.handler != nil {
			if err := w.handler.HandleQuote(q); err != nil {
				w.logger.Warn("quote handler failed",
					"instrument", inst.String(),
					"error", err,
				)
			}
		}
	}

	w.logger.Info("watch cycle complete",
		"instruments", len(w.list),
		"served", served,
		"empty", empty,
		"failed", failed,
		"duration", time.Since(start),
	)
}

func (w *Watcher) fetch(inst model.Instrument) (model.Quote, error) {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()
	return w.quotes.GetQuote(ctx, inst)
}
