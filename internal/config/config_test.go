package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: quotes-dev
gateway:
  endpoints:
    - host: 10.0.0.5
      port: 4001
    - port: 7497
  client_ids: [8, 9]
venues:
  primary: SMART
  option_fallback: [BOX, CBOE]
watch:
  instruments:
    - symbol: AAPL
    - symbol: APLD
      expiry: "20260109"
      strike: "24.5"
      right: P
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "quotes-dev" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "quotes-dev")
	}
	if len(cfg.Gateway.Endpoints) != 2 || cfg.Gateway.Endpoints[0].Host != "10.0.0.5" {
		t.Errorf("Gateway.Endpoints = %+v", cfg.Gateway.Endpoints)
	}
	if len(cfg.Venues.OptionFallback) != 2 || cfg.Venues.OptionFallback[1] != "CBOE" {
		t.Errorf("Venues.OptionFallback = %v", cfg.Venues.OptionFallback)
	}
	if len(cfg.Watch.Instruments) != 2 || cfg.Watch.Instruments[1].Strike != "24.5" {
		t.Errorf("Watch.Instruments = %+v", cfg.Watch.Instruments)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: quotes-dev
database:
  quotes:
    host: localhost
    name: quotes
    user: quotes
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Quotes.Password != "secret123" {
		t.Errorf("Database.Quotes.Password = %q, want %q", cfg.Database.Quotes.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: quotes-dev
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if len(cfg.Gateway.Endpoints) != len(DefaultGatewayPorts) {
		t.Errorf("Gateway.Endpoints = %+v, want sweep over %v", cfg.Gateway.Endpoints, DefaultGatewayPorts)
	}
	if cfg.Gateway.AttemptTimeout != DefaultAttemptTimeout {
		t.Errorf("Gateway.AttemptTimeout = %v, want default %v", cfg.Gateway.AttemptTimeout, DefaultAttemptTimeout)
	}
	if cfg.Venues.Primary != DefaultPrimaryVenue {
		t.Errorf("Venues.Primary = %q, want default %q", cfg.Venues.Primary, DefaultPrimaryVenue)
	}
	if cfg.Quotes.BaseTimeout != DefaultBaseTimeout {
		t.Errorf("Quotes.BaseTimeout = %v, want default %v", cfg.Quotes.BaseTimeout, DefaultBaseTimeout)
	}
	if cfg.Quotes.DelayedMultiplier != DefaultDelayedMultiplier {
		t.Errorf("Quotes.DelayedMultiplier = %d, want default %d", cfg.Quotes.DelayedMultiplier, DefaultDelayedMultiplier)
	}
	if cfg.Database.Quotes.Port != DefaultDBPort {
		t.Errorf("Database.Quotes.Port = %d, want default %d", cfg.Database.Quotes.Port, DefaultDBPort)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() ServiceConfig {
		cfg := ServiceConfig{Instance: InstanceConfig{ID: "test"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr string
	}{
		{
			name:    "missing instance id",
			cfg:     ServiceConfig{},
			wantErr: "instance.id is required",
		},
		{
			name: "bad endpoint port",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Gateway.Endpoints[0].Port = 70000
				return cfg
			}(),
			wantErr: "gateway.endpoints[0].port must be between 1 and 65535, got 70000",
		},
		{
			name: "empty client ids",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Gateway.ClientIDs = nil
				return cfg
			}(),
			wantErr: "gateway.client_ids must not be empty",
		},
		{
			name: "base timeout below poll interval",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Quotes.BaseTimeout = cfg.Quotes.PollInterval / 2
				return cfg
			}(),
			wantErr: "quotes.base_timeout (50ms) must cover at least one poll interval (100ms)",
		},
		{
			name: "watch enabled without instruments",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Watch.Enabled = true
				return cfg
			}(),
			wantErr: "watch.instruments must not be empty when watch is enabled",
		},
		{
			name: "watch instrument with bad strike",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Watch.Enabled = true
				cfg.Watch.Instruments = []WatchInstrument{
					{Symbol: "APLD", Expiry: "20260109", Strike: "abc", Right: "P"},
				}
				return cfg
			}(),
			wantErr: `watch.instruments[0]: parse strike "abc": can't convert abc to decimal`,
		},
		{
			name: "recorder enabled without database",
			cfg: func() ServiceConfig {
				cfg := valid()
				cfg.Recorder.Enabled = true
				return cfg
			}(),
			wantErr: "database.quotes.host is required",
		},
		{
			name:    "valid config",
			cfg:     valid(),
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestToInstruments(t *testing.T) {
	w := WatchConfig{Instruments: []WatchInstrument{
		{Symbol: "AAPL"},
		{Symbol: "APLD", Expiry: "20260109", Strike: "24.5", Right: "P"},
	}}

	list, err := w.ToInstruments()
	if err != nil {
		t.Fatalf("ToInstruments failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].IsOption() {
		t.Error("AAPL parsed as option")
	}
	if !list[1].IsOption() {
		t.Error("APLD put parsed as equity")
	}
	if got := list[1].Strike.String(); got != "24.5" {
		t.Errorf("Strike = %s, want 24.5", got)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
