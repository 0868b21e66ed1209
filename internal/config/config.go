package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ib-quotes/internal/model"
)

// ServiceConfig is the root configuration for a quote service instance.
type ServiceConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Venues   VenuesConfig   `yaml:"venues"`
	Quotes   QuotesConfig   `yaml:"quotes"`
	Watch    WatchConfig    `yaml:"watch"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
}

// InstanceConfig identifies this service instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// EndpointConfig is one gateway address to try during the connect sweep.
type EndpointConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GatewayConfig holds the broker gateway connection sweep settings.
type GatewayConfig struct {
	Endpoints      []EndpointConfig `yaml:"endpoints"`
	ClientIDs      []int            `yaml:"client_ids"`
	AttemptTimeout time.Duration    `yaml:"attempt_timeout"`
	AttemptPause   time.Duration    `yaml:"attempt_pause"`
}

// VenuesConfig holds contract qualification routing.
type VenuesConfig struct {
	Primary        string        `yaml:"primary"`
	OptionFallback []string      `yaml:"option_fallback"`
	QualifyTimeout time.Duration `yaml:"qualify_timeout"`
}

// QuotesConfig holds quote service settings.
type QuotesConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BaseTimeout       time.Duration `yaml:"base_timeout"`
	DelayedMultiplier int           `yaml:"delayed_multiplier"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	QueueSize         int           `yaml:"queue_size"`
}

// WatchInstrument is one watchlist entry. Equities set only the symbol;
// options additionally set expiry, strike, and right. Strike is a string
// so the yaml never loses precision.
type WatchInstrument struct {
	Symbol string `yaml:"symbol"`
	Expiry string `yaml:"expiry"`
	Strike string `yaml:"strike"`
	Right  string `yaml:"right"`
}

// ToInstrument converts the entry to a domain instrument.
func (w WatchInstrument) ToInstrument() (model.Instrument, error) {
	inst := model.Instrument{
		Symbol: w.Symbol,
		Expiry: w.Expiry,
		Right:  model.Right(w.Right),
	}
	if w.Strike != "" {
		strike, err := decimal.NewFromString(w.Strike)
		if err != nil {
			return model.Instrument{}, fmt.Errorf("parse strike %q: %w", w.Strike, err)
		}
		inst.Strike = strike
	}
	return inst, nil
}

// WatchConfig holds background watchlist settings.
type WatchConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Interval    time.Duration     `yaml:"interval"`
	Timeout     time.Duration     `yaml:"timeout"`
	Instruments []WatchInstrument `yaml:"instruments"`
}

// Instruments converts every watchlist entry, failing on the first bad one.
func (w WatchConfig) ToInstruments() ([]model.Instrument, error) {
	list := make([]model.Instrument, 0, len(w.Instruments))
	for i, entry := range w.Instruments {
		inst, err := entry.ToInstrument()
		if err != nil {
			return nil, fmt.Errorf("watch.instruments[%d]: %w", i, err)
		}
		list = append(list, inst)
	}
	return list, nil
}

// RecorderConfig holds quote history recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the quote history database connection.
// Only needed when the recorder is enabled.
type DatabaseConfig struct {
	Quotes DBConfig `yaml:"quotes"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}
