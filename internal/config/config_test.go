package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `
mirrors:
  - https://mirror-a.example.net
  - https://mirror-b.example.net
queries:
  - key: main
    query: '"quillfeed" OR #quillfeed'
    label: Main watch
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quillwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, []string{"https://mirror-a.example.net", "https://mirror-b.example.net"}, cfg.Mirrors)
	require.Equal(t, "http", cfg.Fetch.Mode)
	require.Equal(t, 12*time.Second, cfg.FetchTimeout())
	require.Equal(t, 1, cfg.Fetch.RetriesPerMirror)
	require.Equal(t, 5*time.Minute, cfg.MonitorInterval())
	require.Equal(t, 72*time.Hour, cfg.AgeCeiling())
	require.Equal(t, 5, cfg.Monitor.MinLikes)
	require.Equal(t, 0.5, cfg.Monitor.GrowthFraction)
	require.Equal(t, 5, cfg.Monitor.GrowthAbsolute)
	require.Equal(t, "file", cfg.State.Provider)
	require.Equal(t, "log", cfg.Notify.Provider)
	require.False(t, cfg.Server.Enabled)

	require.Len(t, cfg.Queries, 1)
	require.Equal(t, "main", cfg.Queries[0].Key)
	require.Equal(t, `"quillfeed" OR #quillfeed`, cfg.Queries[0].Query)
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
fetch:
  mode: headless
  timeout_seconds: 30
monitor:
  interval_seconds: 120
  min_likes: 20
state:
  provider: memory
server:
  enabled: true
  port: 9090
`))
	require.NoError(t, err)
	require.Equal(t, "headless", cfg.Fetch.Mode)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, 2*time.Minute, cfg.MonitorInterval())
	require.Equal(t, 20, cfg.Monitor.MinLikes)
	require.Equal(t, "memory", cfg.State.Provider)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsMissingMirrors(t *testing.T) {
	_, err := Load(writeConfig(t, `
queries:
  - key: main
    query: something
`))
	require.ErrorContains(t, err, "mirrors")
}

func TestLoadRejectsBadFetchMode(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
fetch:
  mode: carrier-pigeon
`))
	require.ErrorContains(t, err, "fetch.mode")
}

func TestLoadRejectsQueryWithoutKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
mirrors: [https://mirror-a.example.net]
queries:
  - query: dangling
`))
	require.ErrorContains(t, err, "queries[0]")
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
state:
  provider: postgres
`))
	require.ErrorContains(t, err, "state.dsn")
}

func TestLoadRejectsPubsubWithoutTopic(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
notify:
  provider: pubsub
  project_id: demo
`))
	require.ErrorContains(t, err, "notify.project_id and notify.topic_id")
}

func TestLoadRejectsVIPFasterThanMonitor(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
vip:
  interval_seconds: 30
`))
	require.ErrorContains(t, err, "vip.interval_seconds")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}
