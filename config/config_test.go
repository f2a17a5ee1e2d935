package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, doc map[string]interface{}) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestInitConfigStaticDiscovery(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"interval":     10000,
		"backend_port": 5432,
		"user":         "pgstatsmon",
		"database":     "postgres",
		"static": map[string]interface{}{
			"dbs": []map[string]string{
				{"name": "pg0", "ip": "10.0.0.1"},
			},
		},
		"target": map[string]interface{}{
			"ip":   "0.0.0.0",
			"port": 9204,
		},
	})

	cfg, err := InitConfig(path, nil)
	require.NoError(t, err)
	require.False(t, cfg.UsesInventory())
	require.Len(t, cfg.Static.Dbs, 1)
	require.Equal(t, "/metrics", cfg.Target.Route)
}

func TestInitConfigInventoryWinsOverStatic(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"interval":     10000,
		"backend_port": 5432,
		"user":         "pgstatsmon",
		"database":     "postgres",
		"static": map[string]interface{}{
			"dbs": []map[string]string{{"name": "pg0", "ip": "10.0.0.1"}},
		},
		"vmapi": map[string]interface{}{
			"url":          "http://vmapi.example.com",
			"pollInterval": 60000,
		},
		"target": map[string]interface{}{"port": 9204},
	})

	cfg, err := InitConfig(path, nil)
	require.NoError(t, err)
	require.True(t, cfg.UsesInventory())
}

func TestInitConfigRejectsMaxConnectionsGreaterThanOne(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"interval":     10000,
		"backend_port": 5432,
		"user":         "pgstatsmon",
		"database":     "postgres",
		"connections": map[string]interface{}{
			"query_timeout":   1000,
			"connect_timeout": 1000,
			"max_connections": 2,
		},
		"static": map[string]interface{}{
			"dbs": []map[string]string{{"name": "pg0", "ip": "10.0.0.1"}},
		},
		"target": map[string]interface{}{"port": 9204},
	})

	_, err := InitConfig(path, nil)
	require.Error(t, err)
}

func TestInitConfigRequiresDiscoverySource(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"interval":     10000,
		"backend_port": 5432,
		"user":         "pgstatsmon",
		"database":     "postgres",
		"target":       map[string]interface{}{"port": 9204},
	})

	_, err := InitConfig(path, nil)
	require.Error(t, err)
}

func TestInitConfigRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"interval":     10000,
		"backend_port": 5432,
		"user":         "pgstatsmon",
		"database":     "postgres",
		"static": map[string]interface{}{
			"dbs": []map[string]string{{"name": "pg0", "ip": "10.0.0.1"}},
		},
		"target": map[string]interface{}{"port": 9204},
		"log":    map[string]interface{}{"level": "TRACE"},
	})

	_, err := InitConfig(path, nil)
	require.Error(t, err)
}

func TestSubscribeReceivesInitialConfig(t *testing.T) {
	StoreGlobalConfig(GetDefaultConfig())
	sub := Subscribe()
	getter := <-sub
	cfg := getter()
	require.Equal(t, GetDefaultConfig().Interval, cfg.Interval)
}
