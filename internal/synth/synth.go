package synth

import (
	"math"
	"time"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

// Synthesize builds the quote for inst out of one raw field snapshot.
// Missing fields produce absent quote fields, never an error: an empty
// snapshot yields a quote with no price.
func Synthesize(inst model.Instrument, snap upstream.FieldSnapshot, session model.Session, now time.Time) model.Quote {
	delayed := session.Delayed()

	q := model.Quote{
		Instrument: inst,
		Session:    session,
		Bid:        prefer(delayed, snap.Bid, snap.DelayedBid),
		Ask:        prefer(delayed, snap.Ask, snap.DelayedAsk),
		Close:      pick(snap.Close, snap.DelayedClose),
		Timestamp:  now,
	}
	q.Last = price(inst, snap, delayed)
	if inst.IsOption() {
		q.Greeks = greeks(snap)
	}
	return q
}

// price walks the fallback ladder: last trade, bid/ask midpoint, the
// model's implied option price, prior close. Delayed sessions prefer the
// delayed variant of each rung.
func price(inst model.Instrument, snap upstream.FieldSnapshot, delayed bool) *float64 {
	if p := prefer(delayed, snap.Last, snap.DelayedLast); p != nil {
		return p
	}
	if p := midpoint(delayed, snap); p != nil {
		return p
	}
	if inst.IsOption() {
		if p := optPrice(snap); p != nil {
			return p
		}
	}
	return pick(snap.Close, snap.DelayedClose)
}

// midpoint averages a bid/ask pair. Both sides must be present and
// positive; a one-sided book never yields a price.
func midpoint(delayed bool, snap upstream.FieldSnapshot) *float64 {
	pairs := [][2]*float64{
		{snap.Bid, snap.Ask},
		{snap.DelayedBid, snap.DelayedAsk},
	}
	if delayed {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}
	for _, p := range pairs {
		if usable(p[0]) && usable(p[1]) {
			mid := (*p[0] + *p[1]) / 2
			return &mid
		}
	}
	return nil
}

// optPrice takes the implied option price from the first Greek block that
// carries one, in descending source preference.
func optPrice(snap upstream.FieldSnapshot) *float64 {
	for _, g := range []*upstream.GreekValues{snap.ModelGreeks, snap.LastGreeks, snap.BidAskGreeks} {
		if g != nil && usable(g.OptPrice) {
			v := *g.OptPrice
			return &v
		}
	}
	return nil
}

// greeks returns the first Greek block that carries any value, in
// descending source preference. Blocks are not merged.
func greeks(snap upstream.FieldSnapshot) model.Greeks {
	for _, src := range []*upstream.GreekValues{snap.ModelGreeks, snap.LastGreeks, snap.BidAskGreeks} {
		if src == nil {
			continue
		}
		g := model.Greeks{
			Delta: clean(src.Delta),
			Gamma: clean(src.Gamma),
			Vega:  clean(src.Vega),
			Theta: clean(src.Theta),
			IV:    clean(src.IV),
		}
		if g.Present() {
			return g
		}
	}
	return model.Greeks{}
}

// prefer picks between the live and delayed variant of one field,
// ordering by session regime.
func prefer(delayed bool, live, lag *float64) *float64 {
	if delayed {
		return pick(lag, live)
	}
	return pick(live, lag)
}

func pick(first, second *float64) *float64 {
	if usable(first) {
		v := *first
		return &v
	}
	if usable(second) {
		v := *second
		return &v
	}
	return nil
}

// usable rejects the upstream's "no data" encodings: nil, NaN, and
// non-positive sentinel prices.
func usable(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && *p > 0
}

// clean copies a Greek value, dropping NaN. Greeks may legitimately be
// negative or zero, so only NaN is rejected.
func clean(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) {
		return nil
	}
	v := *p
	return &v
}
