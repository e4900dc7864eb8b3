package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/trialware/diarysync/internal/flagx"
	"github.com/trialware/diarysync/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO (Data Transfer Object) used only for
// reading JSON configuration files. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr          string           `json:"endpoint_addr"`
	DatabaseDSN           string           `json:"database_dsn"`
	SecretKey             string           `json:"secret_key"`
	TokenValidityDuration timex.Duration   `json:"token_validity_duration"`
	S3RootUser            string           `json:"s3_root_user"`
	S3RootPassword        string           `json:"s3_root_password"`
	S3Bucket              string           `json:"s3_bucket"`
	S3Region              string           `json:"s3_region"`
	S3BaseEndpoint        string           `json:"s3_base_endpoint"`
	EnabledEventTypes     map[string][]int `json:"enabled_event_types"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set no JSON is loaded. An unreadable file or
// invalid JSON panics. The caller is expected to merge these values with
// defaults and command-line flags as part of the full configuration
// process.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.EnabledEventTypes = c.EnabledEventTypes
}
