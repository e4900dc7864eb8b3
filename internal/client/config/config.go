package config

import "time"

// Config holds runtime settings for the diary sync client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the sync API, e.g. https://sync.example.org.
//   - DataDir: directory for the local database and the device identity file.
//   - AuthToken: bearer token presented on every request.
//   - ActorID / ActorRole: identity stamped onto locally produced events.
//   - SyncInterval: how often the queue is drained without an external trigger.
//   - RetryBase / RetryCap: retry backoff bounds for failed sends.
//   - EnabledEventTypes: sponsor restriction on producible event types and
//     schema versions; empty means every registered type.
//
// Units: intervals are time.Duration values (e.g., 30*time.Second).
type Config struct {
	ServerEndpointAddr string
	DataDir            string
	AuthToken          string
	ActorID            string
	ActorRole          string
	SyncInterval       time.Duration
	RetryBase          time.Duration
	RetryCap           time.Duration
	EnabledEventTypes  map[string][]int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DataDir = "./data"
	c.ActorRole = "patient"
	c.SyncInterval = 30 * time.Second
	c.RetryBase = 2 * time.Second
	c.RetryCap = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
