package qualify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

// ErrUnqualified is returned when no venue could resolve the instrument.
var ErrUnqualified = errors.New("contract could not be qualified at any venue")

// Config holds qualifier settings.
type Config struct {
	PrimaryVenue   string        // smart-routing venue tried first
	OptionFallback []string      // option venues tried in order after primary
	AttemptTimeout time.Duration // per-venue qualification timeout
}

// DefaultConfig returns the standard venue chain.
func DefaultConfig() Config {
	return Config{
		PrimaryVenue:   "SMART",
		OptionFallback: []string{"BOX", "CBOE"},
		AttemptTimeout: 2 * time.Second,
	}
}

// Qualifier resolves instruments against an upstream session.
type Qualifier struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Qualifier.
func New(cfg Config, logger *slog.Logger) *Qualifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PrimaryVenue == "" {
		cfg.PrimaryVenue = DefaultConfig().PrimaryVenue
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	return &Qualifier{cfg: cfg, logger: logger}
}

// Qualify resolves an instrument to a routable contract.
// Failure is per-instrument: the caller reports "no quote" for this
// instrument and other requests continue unaffected.
func (q *Qualifier) Qualify(ctx context.Context, sess upstream.Session, inst model.Instrument) (*upstream.Contract, error) {
	if inst.IsOption() {
		return q.qualifyOption(ctx, sess, inst)
	}
	return q.qualifyEquity(ctx, sess, inst)
}

// qualifyEquity resolves at the primary venue and accepts what comes back;
// equity qualification rarely fails.
func (q *Qualifier) qualifyEquity(ctx context.Context, sess upstream.Session, inst model.Instrument) (*upstream.Contract, error) {
	spec := specFor(inst, q.venueFor(inst))

	c, err := sess.Qualify(ctx, spec, q.cfg.AttemptTimeout)
	if err != nil {
		return nil, fmt.Errorf("qualify %s at %s: %w", inst, spec.Venue, err)
	}
	if c == nil {
		q.logger.Warn("equity did not qualify",
			"instrument", inst.String(),
			"venue", spec.Venue,
		)
		return nil, ErrUnqualified
	}
	return c, nil
}

// qualifyOption walks primary then fallback venues, short-circuiting on
// the first success.
func (q *Qualifier) qualifyOption(ctx context.Context, sess upstream.Session, inst model.Instrument) (*upstream.Contract, error) {
	venues := append([]string{q.venueFor(inst)}, q.cfg.OptionFallback...)

	for _, venue := range venues {
		c, err := sess.Qualify(ctx, specFor(inst, venue), q.cfg.AttemptTimeout)
		if err == nil && c != nil {
			if venue != venues[0] {
				q.logger.Info("option qualified at fallback venue",
					"instrument", inst.String(),
					"venue", venue,
				)
			}
			return c, nil
		}
		q.logger.Debug("venue did not qualify option",
			"instrument", inst.String(),
			"venue", venue,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	q.logger.Warn("option unqualified at all venues",
		"instrument", inst.String(),
		"venues", venues,
	)
	return nil, ErrUnqualified
}

func (q *Qualifier) venueFor(inst model.Instrument) string {
	if inst.Venue != "" {
		return inst.Venue
	}
	return q.cfg.PrimaryVenue
}

// specFor builds the upstream contract spec for an instrument at a venue.
func specFor(inst model.Instrument, venue string) upstream.ContractSpec {
	currency := inst.Currency
	if currency == "" {
		currency = "USD"
	}

	spec := upstream.ContractSpec{
		Symbol:   inst.Symbol,
		SecType:  "STK",
		Venue:    venue,
		Currency: currency,
	}
	if inst.IsOption() {
		spec.SecType = "OPT"
		spec.Expiry = inst.Expiry
		spec.Strike = inst.Strike.InexactFloat64()
		spec.Right = string(inst.Right)
	}
	return spec
}
