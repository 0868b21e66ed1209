package quote

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/ib-quotes/internal/connection"
	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/registry"
	"github.com/rickgao/ib-quotes/internal/session"
	"github.com/rickgao/ib-quotes/internal/synth"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

// Config holds quote service settings.
type Config struct {
	PollInterval      time.Duration // gateway yield between snapshot reads
	BaseTimeout       time.Duration // per-request poll budget in live sessions
	DelayedMultiplier int           // budget scale for delayed sessions
	CacheTTL          time.Duration // freshness window for served quotes
	QueueSize         int           // pending request backlog
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		BaseTimeout:       2500 * time.Millisecond,
		DelayedMultiplier: session.DefaultDelayedMultiplier,
		CacheTTL:          2 * time.Second,
		QueueSize:         64,
	}
}

type request struct {
	ctx     context.Context
	inst    model.Instrument
	mkt     model.Session
	gen     model.Generation
	replyCh chan reply
}

type reply struct {
	quote model.Quote
	err   error
}

type cacheKey struct {
	instrument string
	generation model.Generation
}

type cacheEntry struct {
	quote    model.Quote
	storedAt time.Time
}

// Service answers quote requests against one shared gateway session.
type Service struct {
	cfg      Config
	manager  *connection.Manager
	registry *registry.Registry
	logger   *slog.Logger

	// Injectable clocks keep session classification testable.
	now      func() time.Time
	classify func(time.Time) model.Session

	generation atomic.Uint64

	requests chan request
	resets   chan chan struct{}

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a quote service.
func New(cfg Config, manager *connection.Manager, reg *registry.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Service{
		cfg:      cfg,
		manager:  manager,
		registry: reg,
		logger:   logger,
		now:      time.Now,
		classify: session.Classify,
		requests: make(chan request, cfg.QueueSize),
		resets:   make(chan chan struct{}),
		cache:    make(map[cacheKey]cacheEntry),
	}
}

// Start launches the worker goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("quote service started",
		"poll_interval", s.cfg.PollInterval,
		"base_timeout", s.cfg.BaseTimeout,
	)
	return nil
}

// Stop shuts the worker down and disconnects from the gateway.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.registry.CancelAll(s.manager.Current())
	s.manager.Invalidate()
	s.logger.Info("quote service stopped")
	return nil
}

// GetQuote returns the best quote obtainable for inst within the poll
// budget. A quiet market yields a quote with absent fields, not an error;
// errors are reserved for an unreachable gateway and unqualifiable
// instruments. When ctx expires before the worker answers, the caller
// gets an empty quote immediately.
func (s *Service) GetQuote(ctx context.Context, inst model.Instrument) (model.Quote, error) {
	now := s.now()
	mkt := s.classify(now)
	gen := model.Generation(s.generation.Load())

	if q, ok := s.cached(inst, gen, now); ok {
		return q, nil
	}

	req := request{
		ctx:     ctx,
		inst:    inst,
		mkt:     mkt,
		gen:     gen,
		replyCh: make(chan reply, 1),
	}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return emptyQuote(inst, mkt, now), nil
	case <-s.ctx.Done():
		return emptyQuote(inst, mkt, now), nil
	}

	select {
	case r := <-req.replyCh:
		return r.quote, r.err
	case <-ctx.Done():
		return emptyQuote(inst, mkt, s.now()), nil
	case <-s.ctx.Done():
		return emptyQuote(inst, mkt, s.now()), nil
	}
}

// Reset tears down every subscription, clears the cache, drops the
// gateway session, and bumps the generation so stale keys can never be
// served again. It runs on the worker to stay serialized with in-flight
// requests.
func (s *Service) Reset() {
	done := make(chan struct{})
	select {
	case s.resets <- done:
		<-done
	case <-s.ctx.Done():
		// Worker gone; apply directly.
		s.reset()
	}
}

// Status reports the connection state and the current market session.
func (s *Service) Status() (string, model.Session) {
	status := "disconnected"
	if s.manager.Connected() {
		status = "connected"
	}
	return status, s.classify(s.now())
}

// Generation returns the current generation counter.
func (s *Service) Generation() model.Generation {
	return model.Generation(s.generation.Load())
}

// run is the owning worker loop. All gateway interaction happens here.
func (s *Service) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case done := <-s.resets:
			s.reset()
			close(done)
		case req := <-s.requests:
			q, err := s.serve(req)
			req.replyCh <- reply{quote: q, err: err}
		}
	}
}

// serve handles one quote request end to end: connect, subscribe, poll.
func (s *Service) serve(req request) (model.Quote, error) {
	start := s.now()

	sess, err := s.manager.Ensure(req.ctx)
	if err != nil {
		s.logger.Error("quote request failed, gateway unreachable",
			"instrument", req.inst.String(),
			"error", err,
		)
		return emptyQuote(req.inst, req.mkt, s.now()), err
	}

	feed, err := s.registry.Subscribe(req.ctx, sess, req.inst, req.mkt, req.gen)
	if err != nil {
		s.logger.Warn("subscription failed",
			"instrument", req.inst.String(),
			"session", req.mkt,
			"error", err,
		)
		return emptyQuote(req.inst, req.mkt, s.now()), err
	}

	q := s.poll(req.ctx, sess, feed, req.inst, req.mkt)
	if q.HasPrice() {
		s.store(req.inst, req.gen, q)
	}

	s.logger.Debug("quote served",
		"instrument", req.inst.String(),
		"session", req.mkt,
		"has_price", q.HasPrice(),
		"duration", s.now().Sub(start),
	)
	return q, nil
}

// poll synthesizes from the feed until the quote is complete or the
// session-scaled budget runs out. The gateway only makes progress while
// the worker yields to it, so each pass hands the poll interval to
// Advance. Timing out is not an error; whatever arrived is returned.
func (s *Service) poll(ctx context.Context, sess upstream.Session, feed *upstream.Feed, inst model.Instrument, mkt model.Session) model.Quote {
	budget := session.EffectiveTimeout(mkt, s.cfg.BaseTimeout, s.cfg.DelayedMultiplier)
	deadline := s.now().Add(budget)

	for {
		q := synth.Synthesize(inst, feed.Snapshot(), mkt, s.now())
		if complete(q, inst) {
			return q
		}
		if ctx.Err() != nil || !s.now().Before(deadline) {
			return q
		}
		sess.Advance(s.cfg.PollInterval)
	}
}

// complete reports whether polling can stop early: a price for equities,
// a price plus Greeks for options.
func complete(q model.Quote, inst model.Instrument) bool {
	if !q.HasPrice() {
		return false
	}
	if inst.IsOption() && !q.Greeks.Present() {
		return false
	}
	return true
}

// reset applies the teardown sequence in order: cancel, clear, drop,
// advance the generation.
func (s *Service) reset() {
	s.registry.CancelAll(s.manager.Current())

	s.cacheMu.Lock()
	s.cache = make(map[cacheKey]cacheEntry)
	s.cacheMu.Unlock()

	s.manager.Invalidate()
	gen := s.generation.Add(1)

	s.logger.Info("session reset", "generation", gen)
}

func (s *Service) cached(inst model.Instrument, gen model.Generation, now time.Time) (model.Quote, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	e, ok := s.cache[cacheKey{instrument: inst.Key(), generation: gen}]
	if !ok || now.Sub(e.storedAt) > s.cfg.CacheTTL {
		return model.Quote{}, false
	}
	return e.quote, true
}

func (s *Service) store(inst model.Instrument, gen model.Generation, q model.Quote) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache[cacheKey{instrument: inst.Key(), generation: gen}] = cacheEntry{
		quote:    q,
		storedAt: s.now(),
	}
}

func emptyQuote(inst model.Instrument, mkt model.Session, now time.Time) model.Quote {
	return model.Quote{Instrument: inst, Session: mkt, Timestamp: now}
}
