package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/ib-quotes/internal/model"
)

var (
	// ErrNotConnected is returned when an operation requires a live session.
	ErrNotConnected = errors.New("session not connected")

	// ErrAlreadyClosed is returned when connecting a discarded session.
	ErrAlreadyClosed = errors.New("session already closed")

	// ErrAckTimeout is returned when the gateway does not acknowledge a
	// command within its deadline.
	ErrAckTimeout = errors.New("gateway ack timeout")
)

// Endpoint is a gateway address candidate.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// URL returns the gateway WebSocket URL for this endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("ws://%s:%d/v1/ws", e.Host, e.Port)
}

// ContractSpec describes an instrument to qualify. Venue may be overridden
// per qualification attempt; the rest comes from the instrument.
type ContractSpec struct {
	Symbol   string
	SecType  string // "STK" or "OPT"
	Expiry   string // YYYYMMDD, options only
	Strike   float64
	Right    string // "C" or "P", options only
	Venue    string
	Currency string
}

// Contract is a venue-routable contract returned by qualification.
type Contract struct {
	ConID       int64
	Symbol      string
	SecType     string
	Expiry      string
	Strike      float64
	Right       string
	Venue       string
	Currency    string
	LocalSymbol string
}

// Generic tick sets requested on subscription, per security type.
// 106 carries option implied volatility, 165 miscellaneous stats.
const (
	TicksOption = "106"
	TicksEquity = "165"
)

// Session is the single upstream market-data session.
//
// Apart from IsConnected, methods must be called from the one worker
// goroutine that owns the session; the implementation does not serialize
// concurrent command traffic itself. A Session is single-use: once
// disconnected it is discarded and replaced, never reconnected in place.
type Session interface {
	// Connect dials the endpoint and performs the client-id handshake.
	// A nil error does not imply connectedness: the gateway can accept
	// the dial and still reject the client id, so callers must verify
	// IsConnected afterwards.
	Connect(ctx context.Context, ep Endpoint, clientID int, timeout time.Duration) error

	// Disconnect tears the session down. Safe to call on a dead session.
	Disconnect()

	// IsConnected reports live connectedness. Safe from any goroutine.
	IsConnected() bool

	// SetDataMode selects the live or delayed data regime for subsequent
	// subscriptions.
	SetDataMode(mode model.DataMode) error

	// Qualify resolves a contract spec at its venue, bounded by timeout.
	// A nil contract with nil error means the gateway could not resolve it.
	Qualify(ctx context.Context, spec ContractSpec, timeout time.Duration) (*Contract, error)

	// OpenFeed starts a market-data feed for a qualified contract.
	// Field values arrive asynchronously and are applied during Advance.
	OpenFeed(c *Contract, ticks string) (*Feed, error)

	// CancelFeed stops a feed and releases its upstream subscription.
	CancelFeed(f *Feed) error

	// Advance applies queued gateway messages to feed state for up to d.
	// It always consumes the full duration, doubling as the poll loop's
	// yield between iterations.
	Advance(d time.Duration)
}

// event is the inbound gateway message. Fields are populated per op.
type event struct {
	Op string `json:"op"`
	ID string `json:"id,omitempty"`

	// handshake_ack
	Accepted bool `json:"accepted,omitempty"`

	// qualify_ack; nil means the gateway could not resolve the spec
	Contract *Contract `json:"contract,omitempty"`

	// tick
	Field string  `json:"field,omitempty"`
	Value float64 `json:"value,omitempty"`

	// greeks
	Source   string   `json:"source,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
	Gamma    *float64 `json:"gamma,omitempty"`
	Vega     *float64 `json:"vega,omitempty"`
	Theta    *float64 `json:"theta,omitempty"`
	IV       *float64 `json:"iv,omitempty"`
	OptPrice *float64 `json:"opt_price,omitempty"`
}

// command is the outbound gateway message.
type command struct {
	Op       string        `json:"op"`
	ID       string        `json:"id,omitempty"`
	ClientID int           `json:"client_id,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	Spec     *ContractSpec `json:"spec,omitempty"`
	ConID    int64         `json:"con_id,omitempty"`
	Ticks    string        `json:"ticks,omitempty"`
}
