package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/signalnoise/cloudsync/internal/flagx"
	"github.com/signalnoise/cloudsync/internal/timex"
)

// jsonConfig is the DTO for JSON configuration files. Interval fields use
// timex.Duration so the file may carry either strings like "15m" or integer
// nanoseconds. Only fields present in the file override the running Config.
type jsonConfig struct {
	EndpointAddr   string          `json:"endpoint_addr"`
	StoreBackend   string          `json:"store_backend"`
	RedisAddr      string          `json:"redis_addr"`
	RedisPassword  string          `json:"redis_password"`
	RedisDB        *int            `json:"redis_db"`
	DatabaseDSN    string          `json:"database_dsn"`
	BaseURL        string          `json:"base_url"`
	MagicTokenTTL  *timex.Duration `json:"magic_token_ttl"`
	VerifyCacheTTL *timex.Duration `json:"verify_cache_ttl"`
	SessionTTL     *timex.Duration `json:"session_ttl"`
	S3RootUser     string          `json:"s3_root_user"`
	S3RootPassword string          `json:"s3_root_password"`
	S3Bucket       string          `json:"s3_bucket"`
	S3Region       string          `json:"s3_region"`
	S3BaseEndpoint string          `json:"s3_base_endpoint"`
}

// parseJSON loads configuration values from the JSON file named by the
// -c/-config flags, if any. A missing flag means no file is loaded; a file
// that cannot be read or parsed panics, since running with half a config is
// worse than not starting.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.StoreBackend != "" {
		config.StoreBackend = c.StoreBackend
	}
	if c.RedisAddr != "" {
		config.RedisAddr = c.RedisAddr
	}
	if c.RedisPassword != "" {
		config.RedisPassword = c.RedisPassword
	}
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.BaseURL != "" {
		config.BaseURL = c.BaseURL
	}
	if c.MagicTokenTTL != nil {
		config.MagicTokenTTL = time.Duration(c.MagicTokenTTL.Duration)
	}
	if c.VerifyCacheTTL != nil {
		config.VerifyCacheTTL = time.Duration(c.VerifyCacheTTL.Duration)
	}
	if c.SessionTTL != nil {
		config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
