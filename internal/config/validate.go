package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Gateway.Endpoints) == 0 {
		return errors.New("gateway.endpoints must not be empty")
	}
	for i, ep := range c.Gateway.Endpoints {
		if ep.Port < 1 || ep.Port > 65535 {
			return fmt.Errorf("gateway.endpoints[%d].port must be between 1 and 65535, got %d", i, ep.Port)
		}
	}
	if len(c.Gateway.ClientIDs) == 0 {
		return errors.New("gateway.client_ids must not be empty")
	}

	if c.Venues.Primary == "" {
		return errors.New("venues.primary is required")
	}

	if c.Quotes.PollInterval <= 0 {
		return errors.New("quotes.poll_interval must be > 0")
	}
	if c.Quotes.BaseTimeout < c.Quotes.PollInterval {
		return fmt.Errorf("quotes.base_timeout (%v) must cover at least one poll interval (%v)",
			c.Quotes.BaseTimeout, c.Quotes.PollInterval)
	}
	if c.Quotes.DelayedMultiplier < 1 {
		return errors.New("quotes.delayed_multiplier must be >= 1")
	}

	if c.Watch.Enabled {
		if len(c.Watch.Instruments) == 0 {
			return errors.New("watch.instruments must not be empty when watch is enabled")
		}
		if _, err := c.Watch.ToInstruments(); err != nil {
			return err
		}
	}

	if c.Recorder.Enabled {
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if err := c.Database.Quotes.validate("database.quotes"); err != nil {
			return err
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
