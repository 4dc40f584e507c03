package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/mainline/dht"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = "127.0.0.1:7000"
LogLevel = "debug"
NodeID = "0102030405060708090a0b0c0d0e0f1011121314"

[DHT]
ReadOnly = true
Alpha = 5
QueryTimeout = "750ms"
Routers = ["10.0.0.1:6881"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddress)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)

	s := cfg.DHT.Settings()
	assert.True(t, s.ReadOnly)
	assert.Equal(t, 5, s.Alpha)
	assert.Equal(t, 750*time.Millisecond, s.QueryTimeout)
	assert.Equal(t, []string{"10.0.0.1:6881"}, s.Routers)

	// Untouched keys keep their defaults.
	defaults := dht.DefaultSettings()
	assert.Equal(t, defaults.BucketSize, s.BucketSize)
	assert.Equal(t, defaults.LookupTimeout, s.LookupTimeout)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", opts.ID.String())
	assert.Equal(t, "127.0.0.1:7000", opts.ListenAddr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[DHT]\nBogus = 1\n"},
		{"bad duration", "[DHT]\nQueryTimeout = \"soon\"\n"},
		{"invalid settings", "[DHT]\nBucketSize = 0\n"},
		{"bad node id", "NodeID = \"xyz\"\n"},
		{"bad log level", "LogLevel = \"loud\"\n"},
		{"not toml", "ListenAddress = \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, "[DHT]\nBogus = 1\n"))
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = Load(writeConfig(t, "[DHT]\nBucketSize = 0\n"))
	assert.ErrorIs(t, err, dht.ErrInvalidSettings)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.DHT.PeerTTL = Duration{45 * time.Minute}
	path := filepath.Join(t.TempDir(), "nested", "node.toml")

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, dht.DefaultSettings().Routers, loaded.DHT.Settings().Routers)
}
