// Package mock provides a scriptable in-memory Session for tests and
// offline development.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

// ConnectAttempt records one Connect call.
type ConnectAttempt struct {
	Endpoint upstream.Endpoint
	ClientID int
}

// ConnectOutcome scripts the result of one Connect call.
type ConnectOutcome struct {
	Err       error
	Connected bool
}

// Session is a scriptable upstream.Session. The zero value accepts every
// connect, resolves every contract, and opens empty feeds.
type Session struct {
	// ConnectScript decides each Connect outcome; nil accepts everything.
	ConnectScript func(ep upstream.Endpoint, clientID int) ConnectOutcome

	// ResolveContract decides qualification; nil resolves with a synthetic
	// con-id. Returning (nil, nil) means "could not resolve".
	ResolveContract func(spec upstream.ContractSpec) (*upstream.Contract, error)

	// OnOpenFeed, when set, seeds or streams data into a new feed.
	OnOpenFeed func(f *upstream.Feed)

	// OnAdvance, when set, runs at the start of each Advance call.
	OnAdvance func()

	mu        sync.Mutex
	connected bool
	closed    bool
	nextConID int64

	// Recorded calls
	Connects  []ConnectAttempt
	Qualifies []upstream.ContractSpec
	Opened    []*upstream.Feed
	Cancelled []*upstream.Feed
	Modes     []model.DataMode

	advances atomic.Int64
}

var _ upstream.Session = (*Session)(nil)

func (s *Session) Connect(_ context.Context, ep upstream.Endpoint, clientID int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return upstream.ErrAlreadyClosed
	}
	s.Connects = append(s.Connects, ConnectAttempt{Endpoint: ep, ClientID: clientID})

	outcome := ConnectOutcome{Connected: true}
	if s.ConnectScript != nil {
		outcome = s.ConnectScript(ep, clientID)
	}
	s.connected = outcome.Connected && outcome.Err == nil
	return outcome.Err
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) SetDataMode(mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return upstream.ErrNotConnected
	}
	s.Modes = append(s.Modes, mode)
	return nil
}

func (s *Session) Qualify(_ context.Context, spec upstream.ContractSpec, _ time.Duration) (*upstream.Contract, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, upstream.ErrNotConnected
	}
	s.Qualifies = append(s.Qualifies, spec)
	resolve := s.ResolveContract
	s.nextConID++
	conID := s.nextConID
	s.mu.Unlock()

	if resolve != nil {
		return resolve(spec)
	}
	return &upstream.Contract{
		ConID:    conID,
		Symbol:   spec.Symbol,
		SecType:  spec.SecType,
		Expiry:   spec.Expiry,
		Strike:   spec.Strike,
		Right:    spec.Right,
		Venue:    spec.Venue,
		Currency: spec.Currency,
	}, nil
}

func (s *Session) OpenFeed(c *upstream.Contract, _ string) (*upstream.Feed, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, upstream.ErrNotConnected
	}
	f := &upstream.Feed{ID: uuid.NewString(), Contract: *c}
	s.Opened = append(s.Opened, f)
	seed := s.OnOpenFeed
	s.mu.Unlock()

	if seed != nil {
		seed(f)
	}
	return f, nil
}

func (s *Session) CancelFeed(f *upstream.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled = append(s.Cancelled, f)
	if !s.connected {
		return upstream.ErrNotConnected
	}
	return nil
}

func (s *Session) Advance(d time.Duration) {
	s.advances.Add(1)
	if s.OnAdvance != nil {
		s.OnAdvance()
	}
	time.Sleep(d)
}

// Advances returns how many times Advance has run.
func (s *Session) Advances() int64 {
	return s.advances.Load()
}

// ConnectCount returns how many Connect calls were made.
func (s *Session) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Connects)
}
