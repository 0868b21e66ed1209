package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultGatewayHost           = "127.0.0.1"
	DefaultAttemptTimeout        = 3 * time.Second
	DefaultAttemptPause          = 200 * time.Millisecond
	DefaultPrimaryVenue          = "SMART"
	DefaultQualifyTimeout        = 2 * time.Second
	DefaultPollInterval          = 100 * time.Millisecond
	DefaultBaseTimeout           = 2500 * time.Millisecond
	DefaultDelayedMultiplier     = 5
	DefaultCacheTTL              = 2 * time.Second
	DefaultQueueSize             = 64
	DefaultWatchInterval         = 30 * time.Second
	DefaultWatchTimeout          = 15 * time.Second
	DefaultRecorderBatchSize     = 500
	DefaultRecorderFlushInterval = 1 * time.Second
	DefaultRecorderBufferSize    = 4096
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 10
	DefaultMinConns              = 2
	DefaultServerPort            = 8090
	DefaultRequestTimeout        = 30 * time.Second
)

// DefaultGatewayPorts is the standard sweep order: live and paper ports
// for both gateway flavors.
var DefaultGatewayPorts = []int{4001, 7496, 4002, 7497}

// DefaultClientIDs stays clear of the ids most tools grab by default.
var DefaultClientIDs = []int{8, 9}

// DefaultOptionFallback is the venue walk used when SMART cannot
// qualify an option.
var DefaultOptionFallback = []string{"BOX", "CBOE"}

// ApplyDefaults fills unset fields on a programmatically built config.
func (c *ServiceConfig) ApplyDefaults() {
	c.applyDefaults()
}

func (c *ServiceConfig) applyDefaults() {
	// Gateway defaults
	if len(c.Gateway.Endpoints) == 0 {
		for _, port := range DefaultGatewayPorts {
			c.Gateway.Endpoints = append(c.Gateway.Endpoints, EndpointConfig{Host: DefaultGatewayHost, Port: port})
		}
	}
	for i := range c.Gateway.Endpoints {
		if c.Gateway.Endpoints[i].Host == "" {
			c.Gateway.Endpoints[i].Host = DefaultGatewayHost
		}
	}
	if len(c.Gateway.ClientIDs) == 0 {
		c.Gateway.ClientIDs = append([]int(nil), DefaultClientIDs...)
	}
	if c.Gateway.AttemptTimeout == 0 {
		c.Gateway.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Gateway.AttemptPause == 0 {
		c.Gateway.AttemptPause = DefaultAttemptPause
	}

	// Venue defaults
	if c.Venues.Primary == "" {
		c.Venues.Primary = DefaultPrimaryVenue
	}
	if len(c.Venues.OptionFallback) == 0 {
		c.Venues.OptionFallback = append([]string(nil), DefaultOptionFallback...)
	}
	if c.Venues.QualifyTimeout == 0 {
		c.Venues.QualifyTimeout = DefaultQualifyTimeout
	}

	// Quote service defaults
	if c.Quotes.PollInterval == 0 {
		c.Quotes.PollInterval = DefaultPollInterval
	}
	if c.Quotes.BaseTimeout == 0 {
		c.Quotes.BaseTimeout = DefaultBaseTimeout
	}
	if c.Quotes.DelayedMultiplier == 0 {
		c.Quotes.DelayedMultiplier = DefaultDelayedMultiplier
	}
	if c.Quotes.CacheTTL == 0 {
		c.Quotes.CacheTTL = DefaultCacheTTL
	}
	if c.Quotes.QueueSize == 0 {
		c.Quotes.QueueSize = DefaultQueueSize
	}

	// Watch defaults
	if c.Watch.Interval == 0 {
		c.Watch.Interval = DefaultWatchInterval
	}
	if c.Watch.Timeout == 0 {
		c.Watch.Timeout = DefaultWatchTimeout
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultRecorderBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultRecorderFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultRecorderBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Quotes)

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
