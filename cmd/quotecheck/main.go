// Command quotecheck fetches a single quote and prints it. It is the
// quickest way to verify gateway connectivity and market data
// permissions from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ib-quotes/internal/config"
	"github.com/rickgao/ib-quotes/internal/connection"
	"github.com/rickgao/ib-quotes/internal/model"
	"github.com/rickgao/ib-quotes/internal/qualify"
	"github.com/rickgao/ib-quotes/internal/quote"
	"github.com/rickgao/ib-quotes/internal/registry"
	"github.com/rickgao/ib-quotes/internal/upstream"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional config file; defaults apply without one")
		symbol     = flag.String("symbol", "", "underlying symbol (required)")
		expiry     = flag.String("expiry", "", "option expiry, YYYYMMDD")
		strike     = flag.String("strike", "", "option strike")
		right      = flag.String("right", "", "option right, C or P")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall request timeout")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: quotecheck -symbol AAPL [-expiry 20260109 -strike 24.5 -right P]")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	inst, err := buildInstrument(*symbol, *expiry, *strike, *right)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	q, err := fetch(cfg, inst, *timeout, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	printQuote(q)
}

func buildInstrument(symbol, expiry, strike, right string) (model.Instrument, error) {
	inst := model.Instrument{
		Symbol: symbol,
		Expiry: expiry,
		Right:  model.Right(right),
	}
	if strike != "" {
		s, err := decimal.NewFromString(strike)
		if err != nil {
			return model.Instrument{}, fmt.Errorf("parse strike %q: %w", strike, err)
		}
		inst.Strike = s
	}
	if (expiry != "" || strike != "" || right != "") && !inst.IsOption() {
		return model.Instrument{}, fmt.Errorf("options require expiry, strike, and right together")
	}
	return inst, nil
}

func loadConfig(path string) (*config.ServiceConfig, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	cfg := &config.ServiceConfig{Instance: config.InstanceConfig{ID: "quotecheck"}}
	cfg.ApplyDefaults()
	return cfg, nil
}

func fetch(cfg *config.ServiceConfig, inst model.Instrument, timeout time.Duration, logger *slog.Logger) (model.Quote, error) {
	endpoints := make([]upstream.Endpoint, len(cfg.Gateway.Endpoints))
	for i, ep := range cfg.Gateway.Endpoints {
		endpoints[i] = upstream.Endpoint{Host: ep.Host, Port: ep.Port}
	}
	manager := connection.NewManager(connection.Config{
		Endpoints:      endpoints,
		ClientIDs:      cfg.Gateway.ClientIDs,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		AttemptPause:   cfg.Gateway.AttemptPause,
	}, func() upstream.Session {
		return upstream.NewSession(upstream.DefaultClientConfig(), logger)
	}, logger)

	reg := registry.New(qualify.New(qualify.Config{
		PrimaryVenue:   cfg.Venues.Primary,
		OptionFallback: cfg.Venues.OptionFallback,
		AttemptTimeout: cfg.Venues.QualifyTimeout,
	}, logger), logger)

	svc := quote.New(quote.Config{
		PollInterval:      cfg.Quotes.PollInterval,
		BaseTimeout:       cfg.Quotes.BaseTimeout,
		DelayedMultiplier: cfg.Quotes.DelayedMultiplier,
		CacheTTL:          cfg.Quotes.CacheTTL,
		QueueSize:         cfg.Quotes.QueueSize,
	}, manager, reg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return model.Quote{}, err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		svc.Stop(stopCtx)
	}()

	return svc.GetQuote(ctx, inst)
}

func printQuote(q model.Quote) {
	fmt.Printf("%s  session=%s\n", q.Instrument.String(), q.Session)
	fmt.Printf("  last:  %s\n", fmtPrice(q.Last))
	fmt.Printf("  bid:   %s\n", fmtPrice(q.Bid))
	fmt.Printf("  ask:   %s\n", fmtPrice(q.Ask))
	fmt.Printf("  close: %s\n", fmtPrice(q.Close))
	if q.Instrument.IsOption() {
		fmt.Printf("  delta: %s  gamma: %s  vega: %s  theta: %s  iv: %s\n",
			fmtPrice(q.Greeks.Delta), fmtPrice(q.Greeks.Gamma),
			fmtPrice(q.Greeks.Vega), fmtPrice(q.Greeks.Theta), fmtPrice(q.Greeks.IV))
	}
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *p)
}
