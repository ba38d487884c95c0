package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
http_addr: ":9000"
store:
  kind: mongo
  mongo_uri: mongodb://localhost:27017
tokens:
  counter: anthropic
  redis_addr: localhost:6379
  cache_ttl: 1h
  anthropic:
    rpm: 120
    shared_budget: acontext-tokens
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, StoreMongo, cfg.Store.Kind)
	require.Equal(t, "acontext", cfg.Store.Database)
	require.Equal(t, time.Hour, cfg.Tokens.CacheTTL)
	require.Equal(t, float64(120), cfg.Tokens.Anthropic.RPM)
	require.Equal(t, float64(3000), cfg.Tokens.Anthropic.MaxRPM)
	require.Equal(t, "ANTHROPIC_API_KEY", cfg.Tokens.Anthropic.APIKeyEnv)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "listen: x\n",
		"unknown store":     "store:\n  kind: sqlite\n",
		"mongo without uri": "store:\n  kind: mongo\n",
		"unknown counter":   "tokens:\n  counter: tiktoken\n",
		"shared w/o redis":  "tokens:\n  anthropic:\n    shared_budget: b\n",
		"max below rpm":     "tokens:\n  counter: anthropic\n  anthropic:\n    rpm: 100\n    max_rpm: 50\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, StoreInmem, cfg.Store.Kind)

	path := filepath.Join(t.TempDir(), "acontext.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Debug)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
