package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Right is the side of an option contract.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Instrument identifies a tradeable equity or option contract.
// Equities carry only Symbol/Venue/Currency; options additionally require
// Expiry, Strike, and Right.
type Instrument struct {
	Symbol   string          // Underlying symbol (e.g., "AAPL")
	Expiry   string          // Option expiry, YYYYMMDD; empty for equities
	Strike   decimal.Decimal // Option strike; zero for equities
	Right    Right           // Call or put; empty for equities
	Venue    string          // Routing venue (e.g., "SMART")
	Currency string          // Quote currency (e.g., "USD")
}

// IsOption reports whether the instrument describes an option contract.
// All three of expiry, strike, and right must be present.
func (i Instrument) IsOption() bool {
	return i.Expiry != "" && !i.Strike.IsZero() && i.Right != ""
}

// Key returns a stable identity for subscription and cache keying.
func (i Instrument) Key() string {
	if !i.IsOption() {
		return i.Symbol
	}
	return fmt.Sprintf("%s|%s|%s|%s", i.Symbol, i.Expiry, i.Strike.String(), i.Right)
}

func (i Instrument) String() string {
	if !i.IsOption() {
		return i.Symbol
	}
	return fmt.Sprintf("%s %s %s%s", i.Symbol, i.Expiry, i.Strike.String(), i.Right)
}

// Session classifies the current market phase. It is derived from the wall
// clock per request and never persisted.
type Session string

const (
	SessionRegular Session = "regular" // 9:30–16:00 ET
	SessionPre     Session = "pre"     // 4:00–9:30 ET
	SessionAfter   Session = "after"   // 16:00–20:00 ET
	SessionClosed  Session = "closed"  // outside all trading windows
	SessionWeekend Session = "weekend" // Saturday/Sunday
	SessionHoliday Session = "holiday" // exchange holiday
)

// Delayed reports whether the session implies the delayed upstream data
// regime rather than live streaming ticks.
func (s Session) Delayed() bool {
	switch s {
	case SessionClosed, SessionWeekend, SessionHoliday:
		return true
	}
	return false
}

// DataMode selects the upstream data regime to request.
type DataMode string

const (
	DataModeLive    DataMode = "live"
	DataModeDelayed DataMode = "delayed"
)

// Mode returns the upstream data mode appropriate for the session.
func (s Session) Mode() DataMode {
	if s.Delayed() {
		return DataModeDelayed
	}
	return DataModeLive
}

// Generation is the monotonic counter embedded in every subscription and
// cache key. A key minted at generation g is never reused once the counter
// exceeds g.
type Generation uint64

// Greeks is an option Greek snapshot. All fields are optional; nil means
// the value is currently unknown. Equities always report absent Greeks.
type Greeks struct {
	Delta *float64
	Gamma *float64
	Vega  *float64
	Theta *float64
	IV    *float64
}

// Present reports whether any Greek value has arrived.
func (g Greeks) Present() bool {
	return g.Delta != nil || g.Gamma != nil || g.Vega != nil || g.Theta != nil || g.IV != nil
}

// Quote is the immutable point-in-time snapshot returned to a caller.
// A quote with absent fields is shaped identically to a slow-market quote;
// absence means "currently unknown", not failure.
type Quote struct {
	Instrument Instrument
	Session    Session

	Last  *float64 // Synthesized best-effort price
	Bid   *float64
	Ask   *float64
	Close *float64

	Greeks Greeks

	Timestamp time.Time
}

// HasPrice reports whether synthesis produced any price.
func (q Quote) HasPrice() bool {
	return q.Last != nil
}

// Float is a convenience for building optional float fields.
func Float(v float64) *float64 {
	return &v
}
