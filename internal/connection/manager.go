package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/ib-quotes/internal/upstream"
)

// ConnectError reports exhaustion of every endpoint×client-id combination.
type ConnectError struct {
	Endpoints []upstream.Endpoint
}

func (e *ConnectError) Error() string {
	eps := make([]string, len(e.Endpoints))
	for i, ep := range e.Endpoints {
		eps[i] = ep.String()
	}
	return fmt.Sprintf("could not connect to gateway on any endpoint (%s); check API settings and gateway mode",
		strings.Join(eps, ", "))
}

// Config holds connection manager settings.
type Config struct {
	Endpoints      []upstream.Endpoint
	ClientIDs      []int
	AttemptTimeout time.Duration // per endpoint×client-id attempt
	AttemptPause   time.Duration // pacing between failed attempts
}

// DefaultConfig returns the standard gateway sweep: live and paper ports,
// a two-wide client-id range clear of the common defaults.
func DefaultConfig() Config {
	return Config{
		Endpoints: []upstream.Endpoint{
			{Host: "127.0.0.1", Port: 4001},
			{Host: "127.0.0.1", Port: 7496},
			{Host: "127.0.0.1", Port: 4002},
			{Host: "127.0.0.1", Port: 7497},
		},
		ClientIDs:      []int{8, 9},
		AttemptTimeout: 3 * time.Second,
		AttemptPause:   200 * time.Millisecond,
	}
}

// Factory produces a fresh, unconnected session for one connect attempt.
type Factory func() upstream.Session

// Manager maintains the process-wide gateway session.
type Manager struct {
	cfg     Config
	factory Factory
	logger  *slog.Logger

	mu   sync.Mutex
	sess upstream.Session
}

// NewManager creates a connection manager.
func NewManager(cfg Config, factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
	}
}

// Ensure returns a connected session, reusing the cached one when it is
// still live and otherwise sweeping endpoints×client-ids for a fresh one.
// The connect primitive can report success without being connected, so
// every attempt is verified by querying connectedness explicitly.
func (m *Manager) Ensure(ctx context.Context) (upstream.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		if m.sess.IsConnected() {
			return m.sess, nil
		}
		m.logger.Info("cached session dropped, reconnecting")
		m.sess.Disconnect()
		m.sess = nil
	}

	for _, ep := range m.cfg.Endpoints {
		for _, clientID := range m.cfg.ClientIDs {
			m.logger.Debug("trying gateway",
				"endpoint", ep.String(),
				"client_id", clientID,
			)

			sess := m.factory()
			err := sess.Connect(ctx, ep, clientID, m.cfg.AttemptTimeout)
			if err == nil && sess.IsConnected() {
				m.logger.Info("gateway connected",
					"endpoint", ep.String(),
					"client_id", clientID,
				)
				m.sess = sess
				return sess, nil
			}

			if err != nil {
				m.logger.Warn("connect attempt failed",
					"endpoint", ep.String(),
					"client_id", clientID,
					"error", err,
				)
			}
			sess.Disconnect()

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.AttemptPause):
			}
		}
	}

	err := &ConnectError{Endpoints: m.cfg.Endpoints}
	m.logger.Error("gateway unreachable", "error", err)
	return nil, err
}

// Invalidate discards the cached session; the next Ensure reconnects.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		m.sess.Disconnect()
		m.sess = nil
	}
}

// Current returns the cached session without connecting, nil if absent.
func (m *Manager) Current() upstream.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Connected reports whether a live session is cached.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.IsConnected()
}
