package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	require.Equal(t, DefaultSocketPath, cfg.Server.SocketPath)
	require.Equal(t, DefaultInstances, cfg.Server.Instances)
	require.Equal(t, DefaultSocketModeOctal, cfg.Server.SocketModeOctal)
	require.Equal(t, DefaultAcceptTimeoutSeconds, cfg.Server.AcceptTimeoutSeconds)
	require.Equal(t, DefaultDaemonListenAddress, cfg.Daemon.ListenAddress)
}

func TestAcceptTimeoutZeroDisables(t *testing.T) {
	cfg := ServerConfig{AcceptTimeoutSeconds: 0}
	require.Equal(t, time.Duration(0), cfg.AcceptTimeout())

	cfg.AcceptTimeoutSeconds = 5
	require.Equal(t, 5*time.Second, cfg.AcceptTimeout())
}

func TestDialTimeoutDefaultsWhenUnset(t *testing.T) {
	cfg := DaemonConfig{}
	require.Equal(t, 10*time.Second, cfg.DialTimeout())

	cfg.DialTimeoutSeconds = 3
	require.Equal(t, 3*time.Second, cfg.DialTimeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trigger.toml")
	contents := `
[server]
socket_path = "/tmp/custom.sock"
instances = 4

[daemon]
address = "unix:///tmp/daemon.sock"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.sock", cfg.Server.SocketPath)
	require.Equal(t, 4, cfg.Server.Instances)
	require.Equal(t, "unix:///tmp/daemon.sock", cfg.Daemon.Address)
	// Unset fields still pick up defaults.
	require.Equal(t, DefaultDaemonDialTimeoutSecs, cfg.Daemon.DialTimeoutSeconds)
}

func TestLoadFromFileMissingReturnsError(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/trigger.toml")
	require.Error(t, err)
}

func TestResetClearsGlobalConfig(t *testing.T) {
	Reset()
	cfg1, err := Load()
	require.NoError(t, err)
	Reset()
	cfg2, err := Load()
	require.NoError(t, err)
	require.NotSame(t, cfg1, cfg2)
}
