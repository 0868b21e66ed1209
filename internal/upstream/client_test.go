package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/ib-quotes/internal/model"
)

// mockGateway runs a test WebSocket gateway with a scripted handler.
func mockGateway(t *testing.T, handler func(*websocket.Conn)) (*httptest.Server, Endpoint) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	return server, Endpoint{Host: u.Hostname(), Port: port}
}

// handshakeGateway acks handshakes with the given acceptance, then runs next.
func handshakeGateway(t *testing.T, accept bool, next func(*websocket.Conn)) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Op != "handshake" {
			t.Errorf("first command op = %q, want handshake", cmd.Op)
			return
		}
		conn.WriteJSON(event{Op: "handshake_ack", ID: cmd.ID, Accepted: accept})
		if next != nil {
			next(conn)
		}
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestSession_ConnectAccepted(t *testing.T) {
	server, ep := mockGateway(t, handshakeGateway(t, true, drain))
	defer server.Close()

	sess := NewSession(DefaultClientConfig(), nil)
	if err := sess.Connect(context.Background(), ep, 8, 2*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !sess.IsConnected() {
		t.Error("expected IsConnected after accepted handshake")
	}

	sess.Disconnect()
	if sess.IsConnected() {
		t.Error("expected disconnected after Disconnect")
	}
}

func TestSession_ConnectRejected(t *testing.T) {
	server, ep := mockGateway(t, handshakeGateway(t, false, nil))
	defer server.Close()

	sess := NewSession(DefaultClientConfig(), nil)
	err := sess.Connect(context.Background(), ep, 8, 2*time.Second)

	// Rejection is the no-error failure mode: callers must check
	// connectedness, not the error.
	if err != nil {
		t.Fatalf("Connect returned error on rejection: %v", err)
	}
	if sess.IsConnected() {
		t.Error("expected disconnected after rejected handshake")
	}
}

func TestSession_ConnectDialFailure(t *testing.T) {
	sess := NewSession(DefaultClientConfig(), nil)
	err := sess.Connect(context.Background(), Endpoint{Host: "127.0.0.1", Port: 1}, 8, 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected dial error for unreachable endpoint")
	}
	if sess.IsConnected() {
		t.Error("expected disconnected after dial failure")
	}
}

func TestSession_Qualify(t *testing.T) {
	server, ep := mockGateway(t, handshakeGateway(t, true, func(conn *websocket.Conn) {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Op != "qualify" || cmd.Spec == nil {
			return
		}
		conn.WriteJSON(event{
			Op: "qualify_ack",
			ID: cmd.ID,
			Contract: &Contract{
				ConID:  265598,
				Symbol: cmd.Spec.Symbol,
				Venue:  cmd.Spec.Venue,
			},
		})
		drain(conn)
	}))
	defer server.Close()

	sess := NewSession(DefaultClientConfig(), nil)
	if err := sess.Connect(context.Background(), ep, 8, 2*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	c, err := sess.Qualify(context.Background(), ContractSpec{
		Symbol:  "AAPL",
		SecType: "STK",
		Venue:   "SMART",
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if c == nil || c.ConID != 265598 {
		t.Fatalf("contract = %+v, want ConID 265598", c)
	}
}

func TestSession_QualifyUnresolved(t *testing.T) {
	server, ep := mockGateway(t, handshakeGateway(t, true, func(conn *websocket.Conn) {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		// Null contract: the gateway could not resolve the spec.
		conn.WriteJSON(event{Op: "qualify_ack", ID: cmd.ID})
		drain(conn)
	}))
	defer server.Close()

	sess := NewSession(DefaultClientConfig(), nil)
	if err := sess.Connect(context.Background(), ep, 8, 2*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	c, err := sess.Qualify(context.Background(), ContractSpec{Symbol: "NOPE"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if c != nil {
		t.Errorf("contract = %+v, want nil", c)
	}
}

func TestSession_FeedTicks(t *testing.T) {
	server, ep := mockGateway(t, handshakeGateway(t, true, func(conn *websocket.Conn) {
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Op != "subscribe" {
				continue // set_data_mode, unsubscribe
			}
			conn.WriteJSON(event{Op: "tick", ID: cmd.ID, Field: "last", Value: 150.2})
			conn.WriteJSON(event{Op: "tick", ID: cmd.ID, Field: "bid", Value: 150.0})
			iv := 0.35
			delta := 0.42
			conn.WriteJSON(event{Op: "greeks", ID: cmd.ID, Source: "model", Delta: &delta, IV: &iv})
		}
	}))
	defer server.Close()

	sess := NewSession(DefaultClientConfig(), nil)
	if err := sess.Connect(context.Background(), ep, 8, 2*time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sess.Disconnect()

	if err := sess.SetDataMode(model.DataModeLive); err != nil {
		t.Fatalf("SetDataMode failed: %v", err)
	}

	feed, err := sess.OpenFeed(&Contract{ConID: 1, Symbol: "AAPL"}, TicksEquity)
	if err != nil {
		t.Fatalf("OpenFeed failed: %v", err)
	}

	// Pump inbound messages until the fields land or we give up.
	deadline := time.Now().Add(2 * time.Second)
	var snap FieldSnapshot
	for time.Now().Before(deadline) {
		sess.Advance(20 * time.Millisecond)
		snap = feed.Snapshot()
		if snap.Last != nil && snap.Bid != nil && snap.ModelGreeks != nil {
			break
		}
	}

	if snap.Last == nil || *snap.Last != 150.2 {
		t.Errorf("Last = %v, want 150.2", snap.Last)
	}
	if snap.Bid == nil || *snap.Bid != 150.0 {
		t.Errorf("Bid = %v, want 150.0", snap.Bid)
	}
	if snap.ModelGreeks == nil || snap.ModelGreeks.Delta == nil || *snap.ModelGreeks.Delta != 0.42 {
		t.Errorf("ModelGreeks = %+v, want delta 0.42", snap.ModelGreeks)
	}

	if err := sess.CancelFeed(feed); err != nil {
		t.Errorf("CancelFeed failed: %v", err)
	}
}

func TestFeed_SnapshotIsCopy(t *testing.T) {
	f := &Feed{ID: "x"}
	f.ApplyTick("last", 10.5, time.Now())

	snap := f.Snapshot()
	f.ApplyTick("last", 11.0, time.Now())

	if *snap.Last != 10.5 {
		t.Errorf("earlier snapshot mutated: Last = %v", *snap.Last)
	}
	if *f.Snapshot().Last != 11.0 {
		t.Errorf("latest snapshot = %v, want 11.0", *f.Snapshot().Last)
	}
}

func TestFeed_IgnoresUnknownFields(t *testing.T) {
	f := &Feed{ID: "x"}
	f.ApplyTick("volume", 12345, time.Now())

	if !f.Snapshot().UpdatedAt.IsZero() {
		t.Error("unknown field updated the snapshot timestamp")
	}
}

func TestEventRoundTrip(t *testing.T) {
	delta := 0.5
	ev := event{Op: "greeks", ID: "abc", Source: "model", Delta: &delta}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Op != "greeks" || got.Source != "model" || got.Delta == nil || *got.Delta != 0.5 {
		t.Errorf("round trip = %+v", got)
	}
}
