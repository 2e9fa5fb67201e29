// Package config loads and hot-reloads the trigger server's runtime
// tunables: socket path, instance count, accept timeout, socket mode,
// and the daemon RPC endpoint.
package config

import "time"

// Config is the trigger server's full runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the local endpoint pool.
type ServerConfig struct {
	// SocketPath is the well-known Unix-domain socket path every pool
	// goroutine calls Accept on. The Go-native analogue of the fixed,
	// well-known IPC endpoint name in spec.md §6.
	SocketPath string `mapstructure:"socket_path"`

	// Instances is INSTANCES: the fixed-size endpoint pool width, set
	// once at process start and never changed live.
	Instances int `mapstructure:"instances"`

	// SocketModeOctal is the POSIX analogue of the "everyone:
	// read|write|create-instance|synchronize" DACL, applied to the
	// socket file after bind. Expressed in octal text (e.g. "0666")
	// since TOML has no native octal literal.
	SocketModeOctal string `mapstructure:"socket_mode"`

	// AcceptTimeoutSeconds is the configured per-connection accept
	// timeout, exposed as a duration by AcceptTimeout (zero or less
	// means disabled). The endpoint pool and driver do not apply it:
	// accepts and reads wait without a deadline.
	AcceptTimeoutSeconds int `mapstructure:"accept_timeout_seconds"`
}

// AcceptTimeout returns the configured accept timeout as a duration,
// or zero if disabled.
func (s ServerConfig) AcceptTimeout() time.Duration {
	if s.AcceptTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.AcceptTimeoutSeconds) * time.Second
}

// DaemonConfig configures the grpc link to the qrexec daemon.
type DaemonConfig struct {
	// Address is the daemon-facing grpc endpoint: a Unix-domain socket
	// path (unix:///run/qrexec/daemon.sock) or host:port.
	Address string `mapstructure:"address"`

	// DialTimeoutSeconds bounds the initial grpc dial.
	DialTimeoutSeconds int `mapstructure:"dial_timeout_seconds"`

	// ListenAddress is where this server's embedded grpc server (the
	// ProceedWithExecution inbound RPC) listens.
	ListenAddress string `mapstructure:"listen_address"`
}

func (d DaemonConfig) DialTimeout() time.Duration {
	if d.DialTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.DialTimeoutSeconds) * time.Second
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	JSON      bool   `mapstructure:"json"`
	Theme     string `mapstructure:"theme"`
	Verbosity int    `mapstructure:"verbosity"`
}

// Default tunables.
const (
	DefaultSocketPath            = "/run/qrexec/trigger.sock"
	DefaultInstances             = 16
	DefaultSocketModeOctal       = "0666"
	DefaultAcceptTimeoutSeconds  = 30
	DefaultDaemonDialTimeoutSecs = 10
	DefaultDaemonListenAddress   = "unix:///run/qrexec/trigger-daemon.sock"

	DefaultDirPermissions  = 0750
	DefaultFilePermissions = 0640
)
