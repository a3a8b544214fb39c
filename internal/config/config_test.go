package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bedweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "listen: \":8080\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.EqualValues(t, 1, cfg.QueryPeriod)
	assert.Equal(t, "/", cfg.MonitorPath)
	assert.Nil(t, cfg.SSL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTemp(t, "listen: \":9090\"\nqeury_period: 5\nmonitor_path: /srv\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, cfg.QueryPeriod)
	assert.Equal(t, "/srv", cfg.MonitorPath)
}

func TestLoadRequiresListen(t *testing.T) {
	path := writeTemp(t, "monitor_path: /\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadSSLRequiresBothFields(t *testing.T) {
	path := writeTemp(t, "listen: \":8080\"\nssl:\n  cert: /tmp/c.pem\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadSSLComplete(t *testing.T) {
	path := writeTemp(t, "listen: \":8080\"\nssl:\n  cert: /tmp/c.pem\n  priv: /tmp/k.pem\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.SSL)
	assert.Equal(t, "/tmp/c.pem", cfg.SSL.Cert)
	assert.Equal(t, "/tmp/k.pem", cfg.SSL.Priv)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
