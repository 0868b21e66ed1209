package upstream

import (
	"sync"
	"time"
)

// GreekValues is one Greek block from the gateway. OptPrice is the model's
// implied option price, used as a late price fallback during synthesis.
type GreekValues struct {
	Delta    *float64
	Gamma    *float64
	Vega     *float64
	Theta    *float64
	IV       *float64
	OptPrice *float64
}

// FieldSnapshot is the raw state of one feed at a point in time. Every
// field is optional; nil means the gateway has not sent it yet. Delayed
// variants arrive when the session runs in the delayed data regime.
type FieldSnapshot struct {
	Last  *float64
	Bid   *float64
	Ask   *float64
	Close *float64

	DelayedLast  *float64
	DelayedBid   *float64
	DelayedAsk   *float64
	DelayedClose *float64

	// Greek blocks by computation source, in descending preference.
	ModelGreeks  *GreekValues
	LastGreeks   *GreekValues
	BidAskGreeks *GreekValues

	UpdatedAt time.Time
}

// Feed is a live upstream subscription for one qualified contract. Field
// state is written by the session during Advance and read via Snapshot;
// callers never mutate a feed.
type Feed struct {
	ID       string // gateway correlation id
	Contract Contract

	mu   sync.Mutex
	snap FieldSnapshot
}

// Snapshot returns a copy of the current raw field state.
func (f *Feed) Snapshot() FieldSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// ApplyTick records a single price field update. Session implementations
// call this while dispatching gateway messages during Advance.
func (f *Feed) ApplyTick(field string, value float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := value
	switch field {
	case "last":
		f.snap.Last = &v
	case "bid":
		f.snap.Bid = &v
	case "ask":
		f.snap.Ask = &v
	case "close":
		f.snap.Close = &v
	case "delayed_last":
		f.snap.DelayedLast = &v
	case "delayed_bid":
		f.snap.DelayedBid = &v
	case "delayed_ask":
		f.snap.DelayedAsk = &v
	case "delayed_close":
		f.snap.DelayedClose = &v
	default:
		return
	}
	f.snap.UpdatedAt = at
}

// ApplyGreeks records a Greek block update for one source.
func (f *Feed) ApplyGreeks(source string, g GreekValues, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch source {
	case "model":
		f.snap.ModelGreeks = &g
	case "last":
		f.snap.LastGreeks = &g
	case "bid_ask":
		f.snap.BidAskGreeks = &g
	default:
		return
	}
	f.snap.UpdatedAt = at
}
