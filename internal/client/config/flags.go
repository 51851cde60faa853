package config

import (
	"flag"
	"os"
	"time"

	"github.com/signalnoise/cloudsync/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server base URL (e.g., "http://127.0.0.1:8080")
//	-f string   local SQLite file path
//	-i int      background poll interval, seconds
//	-m int      minimum gap between background syncs, seconds
//	-o int      per-request timeout, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-i", "-m", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "server base URL")
	fs.StringVar(&config.DatabasePath, "f", config.DatabasePath, "local database path")

	pollInterval := fs.Int("i", int(config.PollInterval.Seconds()), "poll interval (in seconds)")
	minSyncGap := fs.Int("m", int(config.MinSyncGap.Seconds()), "minimum sync gap (in seconds)")
	requestTimeout := fs.Int("o", int(config.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PollInterval = time.Duration(*pollInterval) * time.Second
	config.MinSyncGap = time.Duration(*minSyncGap) * time.Second
	config.RequestTimeout = time.Duration(*requestTimeout) * time.Second
}
