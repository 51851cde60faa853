package config

import (
	"flag"
	"os"
	"time"

	"github.com/signalnoise/cloudsync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-k string   store backend: memory, redis, or postgres
//	-r string   Redis address
//	-w string   Redis password
//	-n int      Redis database number
//	-d string   PostgreSQL DSN
//	-l string   base URL embedded in magic links
//	-t int      magic token lifetime, minutes
//	-v int      verify cache window, seconds
//	-s int      session lifetime, hours
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (empty disables snapshots)
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-k", "-r", "-w", "-n", "-d", "-l", "-t", "-v", "-s", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.StoreBackend, "k", config.StoreBackend, "store backend (memory|redis|postgres)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.RedisPassword, "w", config.RedisPassword, "redis password")
	fs.IntVar(&config.RedisDB, "n", config.RedisDB, "redis database number")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BaseURL, "l", config.BaseURL, "base URL for magic links")

	magicTokenTTL := fs.Int("t", int(config.MagicTokenTTL.Minutes()), "magic token lifetime (in minutes)")
	verifyCacheTTL := fs.Int("v", int(config.VerifyCacheTTL.Seconds()), "verify cache window (in seconds)")
	sessionTTL := fs.Int("s", int(config.SessionTTL.Hours()), "session lifetime (in hours)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MagicTokenTTL = time.Duration(*magicTokenTTL) * time.Minute
	config.VerifyCacheTTL = time.Duration(*verifyCacheTTL) * time.Second
	config.SessionTTL = time.Duration(*sessionTTL) * time.Hour
}
