package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/signalnoise/cloudsync/internal/flagx"
	"github.com/signalnoise/cloudsync/internal/timex"
)

// jsonConfig is the DTO for JSON configuration files. Interval fields use
// timex.Duration so the file may carry either strings like "2m" or integer
// nanoseconds.
type jsonConfig struct {
	ServerEndpointAddr string          `json:"server_endpoint_addr"`
	DatabasePath       string          `json:"database_path"`
	PollInterval       *timex.Duration `json:"poll_interval"`
	MinSyncGap         *timex.Duration `json:"min_sync_gap"`
	RequestTimeout     *timex.Duration `json:"request_timeout"`
}

// parseJSON loads configuration values from the JSON file named by the
// -c/-config flags, if any. Fields absent from the file keep their current
// values.
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

	if c.ServerEndpointAddr != "" {
		config.ServerEndpointAddr = c.ServerEndpointAddr
	}
	if c.DatabasePath != "" {
		config.DatabasePath = c.DatabasePath
	}
	if c.PollInterval != nil {
		config.PollInterval = time.Duration(c.PollInterval.Duration)
	}
	if c.MinSyncGap != nil {
		config.MinSyncGap = time.Duration(c.MinSyncGap.Duration)
	}
	if c.RequestTimeout != nil {
		config.RequestTimeout = time.Duration(c.RequestTimeout.Duration)
	}
}
