package qualify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/upstream"
	"github.com/rickgao/ib-quotes/internal/upstream/mock"
)

func connectedMock(t *testing.T) *mock.Session {
	t.Helper()
	s := &mock.Session{}
	if err := s.Connect(context.Background(), upstream.Endpoint{Host: "127.0.0.1", Port: 4001}, 8, time.Second); err != nil {
		t.Fatalf("mock connect: %v", err)
	}
	return s
}

func option(symbol string) model.Instrument {
	return model.Instrument{
		Symbol: symbol,
		Expiry: "20260116",
		Strike: decimal.NewFromFloat(32.0),
		Right:  model.RightCall,
	}
}

func TestQualify_EquitySingleAttempt(t *testing.T) {
	sess := connectedMock(t)
	q := New(DefaultConfig(), nil)

	c, err := q.Qualify(context.Background(), sess, model.Instrument{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if c.Symbol != "AAPL" || c.SecType != "STK" {
		t.Errorf("contract = %+v, want AAPL STK", c)
	}
	if len(sess.Qualifies) != 1 {
		t.Errorf("attempts = %d, want 1", len(sess.Qualifies))
	}
	if sess.Qualifies[0].Venue != "SMART" {
		t.Errorf("venue = %q, want SMART", sess.Qualifies[0].Venue)
	}
	if sess.Qualifies[0].Currency != "USD" {
		t.Errorf("currency = %q, want USD", sess.Qualifies[0].Currency)
	}
}

func TestQualify_OptionVenueFallbackOrder(t *testing.T) {
	sess := connectedMock(t)
	// SMART and BOX fail; CBOE resolves.
	sess.ResolveContract = func(spec upstream.ContractSpec) (*upstream.Contract, error) {
		if spec.Venue != "CBOE" {
			return nil, nil
		}
		return &upstream.Contract{ConID: 77, Symbol: spec.Symbol, Venue: spec.Venue}, nil
	}

	q := New(Config{
		PrimaryVenue:   "SMART",
		OptionFallback: []string{"BOX", "CBOE"},
		AttemptTimeout: time.Second,
	}, nil)

	c, err := q.Qualify(context.Background(), sess, option("SOFI"))
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if c.Venue != "CBOE" {
		t.Errorf("routed venue = %q, want CBOE", c.Venue)
	}

	// Exactly three attempts, in configured order.
	want := []string{"SMART", "BOX", "CBOE"}
	if len(sess.Qualifies) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(sess.Qualifies), len(want))
	}
	for i, venue := range want {
		if sess.Qualifies[i].Venue != venue {
			t.Errorf("attempt %d venue = %q, want %q", i, sess.Qualifies[i].Venue, venue)
		}
	}
}

func TestQualify_OptionShortCircuitsOnFirstSuccess(t *testing.T) {
	sess := connectedMock(t)
	q := New(DefaultConfig(), nil)

	c, err := q.Qualify(context.Background(), sess, option("HOOD"))
	if err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if len(sess.Qualifies) != 1 {
		t.Errorf("attempts = %d, want 1 (primary venue succeeded)", len(sess.Qualifies))
	}
	if c.SecType != "OPT" || c.Right != "C" || c.Expiry != "20260116" {
		t.Errorf("contract = %+v, want qualified option fields", c)
	}
}

func TestQualify_OptionExhaustionIsPerInstrument(t *testing.T) {
	sess := connectedMock(t)
	sess.ResolveContract = func(upstream.ContractSpec) (*upstream.Contract, error) {
		return nil, errors.New("no security definition")
	}
	q := New(DefaultConfig(), nil)

	_, err := q.Qualify(context.Background(), sess, option("APLD"))
	if !errors.Is(err, ErrUnqualified) {
		t.Fatalf("err = %v, want ErrUnqualified", err)
	}
	if len(sess.Qualifies) != 3 {
		t.Errorf("attempts = %d, want 3", len(sess.Qualifies))
	}

	// The shared session is untouched: a following request still works.
	sess.ResolveContract = nil
	if _, err := q.Qualify(context.Background(), sess, model.Instrument{Symbol: "TSLA"}); err != nil {
		t.Errorf("subsequent qualify failed: %v", err)
	}
}

func TestQualify_InstrumentVenueOverride(t *testing.T) {
	sess := connectedMock(t)
	q := New(DefaultConfig(), nil)

	inst := model.Instrument{Symbol: "AAPL", Venue: "NASDAQ"}
	if _, err := q.Qualify(context.Background(), sess, inst); err != nil {
		t.Fatalf("Qualify failed: %v", err)
	}
	if sess.Qualifies[0].Venue != "NASDAQ" {
		t.Errorf("venue = %q, want NASDAQ override", sess.Qualifies[0].Venue)
	}
}
