package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/qualify"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

// Key identifies one tracked feed.
type Key struct {
	Instrument string
	Generation model.Generation
}

type entry struct {
	feed    *upstream.Feed
	session model.Session // session the feed was opened under
}

// Registry owns the live feed map. Callers receive feed handles but never
// mutate them; all map mutations happen under one lock so at most one feed
// exists per (instrument, generation, session) even under racing callers.
type Registry struct {
	qualifier *qualify.Qualifier
	logger    *slog.Logger

	mu    sync.Mutex
	feeds map[Key]*entry
}

// New creates an empty registry.
func New(qualifier *qualify.Qualifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		qualifier: qualifier,
		logger:    logger,
		feeds:     make(map[Key]*entry),
	}
}

// Subscribe returns the live feed for the instrument, creating it if
// needed. An existing feed is reused only when its session tag matches;
// a session transition cancels the stale feed first. Qualification
// failure is per-instrument and surfaces as an error the caller maps to
// a "no quote" result.
func (r *Registry) Subscribe(ctx context.Context, sess upstream.Session, inst model.Instrument, mktSession model.Session, gen model.Generation) (*upstream.Feed, error) {
	key := Key{Instrument: inst.Key(), Generation: gen}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.feeds[key]; ok {
		if e.session == mktSession {
			r.logger.Debug("reusing feed",
				"instrument", inst.String(),
				"session", mktSession,
			)
			return e.feed, nil
		}

		r.logger.Info("session changed, refreshing feed",
			"instrument", inst.String(),
			"old_session", e.session,
			"new_session", mktSession,
		)
		if err := sess.CancelFeed(e.feed); err != nil {
			r.logger.Warn("failed to cancel stale feed",
				"instrument", inst.String(),
				"error", err,
			)
		}
		delete(r.feeds, key)
	}

	contract, err := r.qualifier.Qualify(ctx, sess, inst)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", inst, err)
	}

	// The data regime is forced at subscription time so the feed carries
	// the fields appropriate for the session it is tagged with.
	if err := sess.SetDataMode(mktSession.Mode()); err != nil {
		return nil, fmt.Errorf("subscribe %s: set data mode: %w", inst, err)
	}

	ticks := upstream.TicksEquity
	if inst.IsOption() {
		ticks = upstream.TicksOption
	}

	feed, err := sess.OpenFeed(contract, ticks)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: open feed: %w", inst, err)
	}

	r.feeds[key] = &entry{feed: feed, session: mktSession}
	r.logger.Debug("feed opened",
		"instrument", inst.String(),
		"con_id", contract.ConID,
		"session", mktSession,
		"mode", mktSession.Mode(),
	)
	return feed, nil
}

// Cancel releases one tracked feed.
func (r *Registry) Cancel(sess upstream.Session, inst model.Instrument, gen model.Generation) {
	key := Key{Instrument: inst.Key(), Generation: gen}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.feeds[key]
	if !ok {
		return
	}
	if sess != nil {
		if err := sess.CancelFeed(e.feed); err != nil {
			r.logger.Warn("failed to cancel feed",
				"instrument", inst.String(),
				"error", err,
			)
		}
	}
	delete(r.feeds, key)
}

// CancelAll best-effort releases every tracked feed and clears the map.
// It must never fail: a nil or disconnected session still clears local
// state so stale handles cannot poison future subscriptions.
func (r *Registry) CancelAll(sess upstream.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess == nil || !sess.IsConnected() {
		r.feeds = make(map[Key]*entry)
		return
	}

	for key, e := range r.feeds {
		if err := sess.CancelFeed(e.feed); err != nil {
			r.logger.Warn("failed to cancel feed",
				"instrument", key.Instrument,
				"error", err,
			)
		}
		delete(r.feeds, key)
	}
	r.logger.Info("all feeds cancelled")
}

// Len returns the number of tracked feeds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}
