package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/ib-quotes/internal/model"
)

// ClientConfig configures a gateway session.
type ClientConfig struct {
	WriteTimeout time.Duration
	BufferSize   int // inbound message queue depth
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// wsSession implements Session over a WebSocket gateway connection.
type wsSession struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	inbound chan []byte
	done    chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	endpoint  Endpoint

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[string]chan event

	// Open feeds by correlation id
	feedsMu sync.Mutex
	feeds   map[string]*Feed
}

// NewSession creates a fresh, unconnected gateway session.
func NewSession(cfg ClientConfig, logger *slog.Logger) Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultClientConfig().WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &wsSession{
		cfg:     cfg,
		logger:  logger,
		inbound: make(chan []byte, cfg.BufferSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan event),
		feeds:   make(map[string]*Feed),
	}
}

// Connect dials the endpoint and handshakes with the given client id.
// The gateway acks the handshake with accepted=false on a client-id
// collision; that path returns a nil error with the session left
// disconnected, which is why connectedness is verified by the caller.
func (s *wsSession) Connect(ctx context.Context, ep Endpoint, clientID int, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.endpoint = ep
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, ep.URL(), nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop()

	id := uuid.NewString()
	respCh := s.register(id)
	defer s.unregister(id)

	if err := s.send(command{Op: "handshake", ID: id, ClientID: clientID}); err != nil {
		s.teardown()
		return err
	}

	ev, ok := s.await(ctx, respCh, timeout)
	if !ok || !ev.Accepted {
		// Rejected or silent gateway: mirror the connect primitive's
		// no-error failure mode and leave the session disconnected.
		s.logger.Debug("handshake not accepted",
			"endpoint", ep.String(),
			"client_id", clientID,
			"acked", ok,
		)
		s.teardown()
		return nil
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.logger.Debug("gateway session connected",
		"endpoint", ep.String(),
		"client_id", clientID,
	)
	return nil
}

// Disconnect tears the session down. Idempotent.
func (s *wsSession) Disconnect() {
	s.teardown()
}

func (s *wsSession) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

// IsConnected reports live connectedness.
func (s *wsSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetDataMode selects the data regime for subsequent subscriptions.
func (s *wsSession) SetDataMode(mode model.DataMode) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.send(command{Op: "set_data_mode", Mode: string(mode)})
}

// Qualify resolves a contract spec, pumping inbound messages until the
// correlated ack arrives or the timeout expires. A nil contract with nil
// error means the gateway could not resolve the spec.
func (s *wsSession) Qualify(ctx context.Context, spec ContractSpec, timeout time.Duration) (*Contract, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	respCh := s.register(id)
	defer s.unregister(id)

	sp := spec
	if err := s.send(command{Op: "qualify", ID: id, Spec: &sp}); err != nil {
		return nil, err
	}

	ev, ok := s.await(ctx, respCh, timeout)
	if !ok {
		return nil, ErrAckTimeout
	}
	return ev.Contract, nil
}

// OpenFeed starts a market-data feed. Fields stream in asynchronously.
func (s *wsSession) OpenFeed(c *Contract, ticks string) (*Feed, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	f := &Feed{
		ID:       uuid.NewString(),
		Contract: *c,
	}

	if err := s.send(command{Op: "subscribe", ID: f.ID, ConID: c.ConID, Ticks: ticks}); err != nil {
		return nil, err
	}

	s.feedsMu.Lock()
	s.feeds[f.ID] = f
	s.feedsMu.Unlock()

	return f, nil
}

// CancelFeed stops a feed and drops its local state.
func (s *wsSession) CancelFeed(f *Feed) error {
	s.feedsMu.Lock()
	delete(s.feeds, f.ID)
	s.feedsMu.Unlock()

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.send(command{Op: "unsubscribe", ID: f.ID})
}

// Advance applies queued gateway messages to feed state for up to d.
// It consumes the full duration so the poll loop never spins.
func (s *wsSession) Advance(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case data := <-s.inbound:
			s.dispatch(data)
		case <-timer.C:
			return
		case <-s.done:
			// Drain what already arrived, then honour the yield.
			for {
				select {
				case data := <-s.inbound:
					s.dispatch(data)
				default:
					<-timer.C
					return
				}
			}
		}
	}
}

// await pumps inbound messages until the correlated response arrives.
// Shares the dispatch path with Advance so ticks received while waiting
// for an ack still land on their feeds.
func (s *wsSession) await(ctx context.Context, respCh chan event, timeout time.Duration) (event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case data := <-s.inbound:
			s.dispatch(data)
		case ev := <-respCh:
			return ev, true
		case <-timer.C:
			return event{}, false
		case <-ctx.Done():
			return event{}, false
		case <-s.done:
			return event{}, false
		}
	}
}

func (s *wsSession) register(id string) chan event {
	ch := make(chan event, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	return ch
}

func (s *wsSession) unregister(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// dispatch applies one inbound gateway message.
func (s *wsSession) dispatch(data []byte) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("malformed gateway message", "error", err)
		return
	}

	switch ev.Op {
	case "handshake_ack", "qualify_ack", "ack":
		s.pendingMu.Lock()
		ch, ok := s.pending[ev.ID]
		if ok {
			delete(s.pending, ev.ID)
		}
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- ev:
			default:
			}
		}

	case "tick":
		if f := s.feed(ev.ID); f != nil {
			f.ApplyTick(ev.Field, ev.Value, time.Now())
		}

	case "greeks":
		if f := s.feed(ev.ID); f != nil {
			f.ApplyGreeks(ev.Source, GreekValues{
				Delta:    ev.Delta,
				Gamma:    ev.Gamma,
				Vega:     ev.Vega,
				Theta:    ev.Theta,
				IV:       ev.IV,
				OptPrice: ev.OptPrice,
			}, time.Now())
		}

	default:
		s.logger.Debug("unhandled gateway op", "op", ev.Op)
	}
}

func (s *wsSession) feed(id string) *Feed {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	return s.feeds[id]
}

// send writes one command under the write lock with a deadline.
func (s *wsSession) send(cmd command) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop queues raw gateway messages for dispatch on the owning worker.
func (s *wsSession) readLoop() {
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("gateway read failed", "error", err)
			}
			return
		}

		select {
		case s.inbound <- data:
		case <-s.done:
			return
		default:
			s.logger.Warn("inbound buffer full, dropping gateway message")
		}
	}
}
