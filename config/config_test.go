package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
name: node1
cluster_addr:
  node0: 127.0.0.1:8000
  node1: 127.0.0.1:8010
public_keys:
  node0: "0a0b"
  node1: "0c0d"
private_key: "01020304"
log_level: 2
session_interval: 250ms
purge_after_session: false
metrics_addr: ":9100"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	conf, err := LoadConfig(dir, "config")
	require.NoError(t, err)

	assert.Equal(t, "node1", conf.Name)
	assert.Equal(t, map[string]string{"node0": "127.0.0.1:8000", "node1": "127.0.0.1:8010"}, conf.ClusterAddr)
	assert.Equal(t, []byte{0x0a, 0x0b}, conf.PublicKeyMap["node0"])
	assert.Equal(t, []byte{1, 2, 3, 4}, conf.PrivateKey)
	assert.Equal(t, 2, conf.LogLevel)
	assert.Equal(t, 250*time.Millisecond, conf.SessionInterval)
	assert.Equal(t, 5*time.Second, conf.SessionTimeout)
	assert.False(t, conf.PurgeAfterSession)
	assert.Equal(t, ":9100", conf.MetricsAddr)
	assert.Equal(t, []string{"node0", "node1"}, conf.Participants())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir(), "config")
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownName(t *testing.T) {
	dir := writeConfig(t, `
name: node9
cluster_addr:
  node0: 127.0.0.1:8000
public_keys:
  node0: "0a"
private_key: "01"
`)
	_, err := LoadConfig(dir, "config")
	assert.ErrorContains(t, err, "node9")
}

func TestValidate(t *testing.T) {
	addrs := map[string]string{"node0": "a", "node1": "b"}
	keys := map[string][]byte{"node0": {1}, "node1": {2}}

	conf := New("node0", addrs, keys, []byte{9}, 3, time.Second, true)
	assert.NoError(t, conf.Validate())

	conf = New("node0", addrs, map[string][]byte{"node0": {1}}, []byte{9}, 3, time.Second, true)
	assert.ErrorContains(t, conf.Validate(), "node1")

	conf = New("node0", addrs, keys, nil, 3, time.Second, true)
	assert.Error(t, conf.Validate())

	conf = New("node0", addrs, keys, []byte{9}, 3, 0, true)
	assert.Error(t, conf.Validate())
}
