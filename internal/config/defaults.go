package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.socket_path", DefaultSocketPath)
	v.SetDefault("server.instances", DefaultInstances)
	v.SetDefault("server.socket_mode", DefaultSocketModeOctal)
	v.SetDefault("server.accept_timeout_seconds", DefaultAcceptTimeoutSeconds)

	v.SetDefault("daemon.address", "")
	v.SetDefault("daemon.dial_timeout_seconds", DefaultDaemonDialTimeoutSecs)
	v.SetDefault("daemon.listen_address", DefaultDaemonListenAddress)

	v.SetDefault("logging.json", false)
	v.SetDefault("logging.theme", "everforest")
	v.SetDefault("logging.verbosity", 0)
}

// BindEnvVars explicitly binds configuration values to environment variables.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("server.socket_path", "QREXEC_TRIGGER_SOCKET_PATH")
	v.BindEnv("server.instances", "QREXEC_TRIGGER_INSTANCES")
	v.BindEnv("server.socket_mode", "QREXEC_TRIGGER_SOCKET_MODE")
	v.BindEnv("server.accept_timeout_seconds", "QREXEC_TRIGGER_ACCEPT_TIMEOUT_SECONDS")

	v.BindEnv("daemon.address", "QREXEC_TRIGGER_DAEMON_ADDRESS")
	v.BindEnv("daemon.dial_timeout_seconds", "QREXEC_TRIGGER_DAEMON_DIAL_TIMEOUT_SECONDS")
	v.BindEnv("daemon.listen_address", "QREXEC_TRIGGER_DAEMON_LISTEN_ADDRESS")

	v.BindEnv("logging.json", "QREXEC_TRIGGER_LOG_JSON")
	v.BindEnv("logging.theme", "QREXEC_TRIGGER_LOG_THEME")
	v.BindEnv("logging.verbosity", "QREXEC_TRIGGER_LOG_VERBOSITY")
}
