package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/quote"
	"github.com/rickgao/ib-quotes/internal/recorder"
	"github.com/rickgao/ib-quotes/internal/version"
)

type quoteResponse struct {
	Symbol    string          `json:"symbol"`
	Expiry    string          `json:"expiry,omitempty"`
	Strike    string          `json:"strike,omitempty"`
	Right     string          `json:"right,omitempty"`
	Session   string          `json:"session"`
	Last      *float64        `json:"last"`
	Bid       *float64        `json:"bid"`
	Ask       *float64        `json:"ask"`
	Close     *float64        `json:"close"`
	Greeks    *greeksResponse `json:"greeks,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type greeksResponse struct {
	Delta *float64 `json:"delta"`
	Gamma *float64 `json:"gamma"`
	Vega  *float64 `json:"vega"`
	Theta *float64 `json:"theta"`
	IV    *float64 `json:"iv"`
}

func toQuoteResponse(q model.Quote) quoteResponse {
	resp := quoteResponse{
		Symbol:    q.Instrument.Symbol,
		Expiry:    q.Instrument.Expiry,
		Right:     string(q.Instrument.Right),
		Session:   string(q.Session),
		Last:      q.Last,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Close:     q.Close,
		Timestamp: q.Timestamp,
	}
	if q.Instrument.IsOption() {
		resp.Strike = q.Instrument.Strike.String()
		resp.Greeks = &greeksResponse{
			Delta: q.Greeks.Delta,
			Gamma: q.Greeks.Gamma,
			Vega:  q.Greeks.Vega,
			Theta: q.Greeks.Theta,
			IV:    q.Greeks.IV,
		}
	}
	return resp
}

// parseInstrument builds an instrument from query parameters. Options
// require expiry, strike, and right together.
func parseInstrument(r *http.Request) (model.Instrument, error) {
	q := r.URL.Query()
	inst := model.Instrument{
		Symbol: q.Get("symbol"),
		Expiry: q.Get("expiry"),
		Right:  model.Right(q.Get("right")),
		Venue:  q.Get("venue"),
	}
	if inst.Symbol == "" {
		return model.Instrument{}, errBadRequest("symbol is required")
	}
	if s := q.Get("strike"); s != "" {
		strike, err := decimal.NewFromString(s)
		if err != nil {
			return model.Instrument{}, errBadRequest("invalid strike: " + s)
		}
		inst.Strike = strike
	}
	optionParts := 0
	for _, set := range []bool{inst.Expiry != "", !inst.Strike.IsZero(), inst.Right != ""} {
		if set {
			optionParts++
		}
	}
	if optionParts != 0 && optionParts != 3 {
		return model.Instrument{}, errBadRequest("options require expiry, strike, and right together")
	}
	return inst, nil
}

type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

func newHandler(svc *quote.Service, rec *recorder.Recorder, requestTimeout time.Duration, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /quote", func(w http.ResponseWriter, r *http.Request) {
		inst, err := parseInstrument(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		q, err := svc.GetQuote(ctx, inst)
		if err != nil {
			logger.Warn("quote request failed", "instrument", inst.String(), "error", err)
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuoteResponse(q))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		status, mkt := svc.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"gateway":    status,
			"session":    string(mkt),
			"generation": svc.Generation(),
			"version":    version.String(),
		})
	})

	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		svc.Reset()
		logger.Info("reset requested over http")
		writeJSON(w, http.StatusOK, map[string]any{
			"generation": svc.Generation(),
		})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		gateway, mkt := svc.Status()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["gateway"] = gateway
		if gateway != "connected" {
			// Connections are made lazily, so a cold gateway is only
			// degraded, not unhealthy.
			health.Status = "degraded"
		}
		health.Components["session"] = string(mkt)

		if rec != nil {
			stats := rec.Stats()
			health.Components["recorder"] = map[string]any{
				"inserts": stats.Inserts,
				"errors":  stats.Errors,
			}
			if stats.Errors > 0 && stats.Inserts == 0 {
				health.Status = "unhealthy"
			}
		}

		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
