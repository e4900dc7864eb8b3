package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/trialware/diarysync/internal/flagx"
	"github.com/trialware/diarysync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "30s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr string           `json:"server_endpoint_addr"`
	DataDir            string           `json:"data_dir"`
	AuthToken          string           `json:"auth_token"`
	ActorID            string           `json:"actor_id"`
	ActorRole          string           `json:"actor_role"`
	SyncInterval       timex.Duration   `json:"sync_interval"`
	RetryBase          timex.Duration   `json:"retry_base"`
	RetryCap           timex.Duration   `json:"retry_cap"`
	EnabledEventTypes  map[string][]int `json:"enabled_event_types"`
}

// parseJson overlays Config with values loaded from a JSON file selected via
// the -c or -config flag. Empty JSON fields keep their current values.
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.AuthToken != "" {
		cfg.AuthToken = jc.AuthToken
	}
	if jc.ActorID != "" {
		cfg.ActorID = jc.ActorID
	}
	if jc.ActorRole != "" {
		cfg.ActorRole = jc.ActorRole
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.RetryBase.Duration != 0 {
		cfg.RetryBase = time.Duration(jc.RetryBase.Duration)
	}
	if jc.RetryCap.Duration != 0 {
		cfg.RetryCap = time.Duration(jc.RetryCap.Duration)
	}
	if len(jc.EnabledEventTypes) > 0 {
		cfg.EnabledEventTypes = jc.EnabledEventTypes
	}
}
