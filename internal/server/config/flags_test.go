package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd",
		"-a", "127.0.0.1:9090", "-k", "redis", "-r", "redis:6379", "-d", "db",
		"-l", "https://sn.example.com", "-t", "5", "-v", "30", "-s", "24",
		"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
	}

	config := &Config{}
	require.NotPanics(t, func() { parseFlags(config) })

	assert.Equal(t, "127.0.0.1:9090", config.EndpointAddr)
	assert.Equal(t, BackendRedis, config.StoreBackend)
	assert.Equal(t, "redis:6379", config.RedisAddr)
	assert.Equal(t, "db", config.DatabaseDSN)
	assert.Equal(t, "https://sn.example.com", config.BaseURL)
	assert.Equal(t, 5*time.Minute, config.MagicTokenTTL)
	assert.Equal(t, 30*time.Second, config.VerifyCacheTTL)
	assert.Equal(t, 24*time.Hour, config.SessionTTL)
	assert.Equal(t, "user", config.S3RootUser)
	assert.Equal(t, "password", config.S3RootPassword)
	assert.Equal(t, "bucket", config.S3Bucket)
	assert.Equal(t, "us-west-1", config.S3Region)
	assert.Equal(t, "http://endpoint", config.S3BaseEndpoint)
}

func TestParseFlagsIgnoresUnknown(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "-z", "whatever", "-a", ":9999"}

	config := &Config{}
	require.NotPanics(t, func() { parseFlags(config) })
	assert.Equal(t, ":9999", config.EndpointAddr)
}
