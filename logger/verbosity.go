package logger

import "go.uber.org/zap/zapcore"

// Verbosity is the raw -v flag count (the root command's persistent
// --verbose / -vvv). OutputCategory gating (output.go) and
// VerbosityToLevel take it as input; Initialize does not, and the root
// logger is built at InfoLevel whatever the count.
const (
	VerbosityUser  = 0 // No flags: banners, final status, errors only
	VerbosityInfo  = 1 // -v: endpoint accepted/recycled, config loaded
	VerbosityDebug = 2 // -vv: state transitions, daemon RPC status
	VerbosityTrace = 3 // -vvv: daemon RPC calls, dispatcher calls
	VerbosityAll   = 4 // -vvvv: full wire-record and handle-transfer detail
)

// VerbosityToLevel maps a -v count to a zap level. Initialize does not
// call it; the root logger's level stays InfoLevel. Categories above
// VerbosityDebug don't get a finer
// zap level of their own — zap only has Debug below Info — so
// OutputCategory (output.go) is what actually distinguishes S-state
// tracing from raw daemon-RPC tracing at verbosity 3 and 4; this
// mapping just ensures the underlying logger doesn't filter those
// lines out before they reach a category check.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch verbosity {
	case VerbosityUser:
		return zapcore.WarnLevel
	case VerbosityInfo:
		return zapcore.InfoLevel
	case VerbosityDebug, VerbosityTrace, VerbosityAll:
		return zapcore.DebugLevel
	default:
		return zapcore.DebugLevel
	}
}

// ShouldLogTrace reports whether verbosity unlocks daemon-RPC-call
// and dispatcher-call tracing (-vvv and above).
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// ShouldLogAll reports whether verbosity unlocks full wire-record and
// SCM_RIGHTS handle-transfer dumps (-vvvv).
func ShouldLogAll(verbosity int) bool {
	return verbosity >= VerbosityAll
}

// LevelName renders verbosity for the startup banner.
func LevelName(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "User"
	case VerbosityInfo:
		return "Info (-v)"
	case VerbosityDebug:
		return "Debug (-vv)"
	case VerbosityTrace:
		return "Trace (-vvv)"
	case VerbosityAll:
		return "All (-vvvv)"
	default:
		if verbosity > VerbosityAll {
			return "All (-vvvv+)"
		}
		return "Unknown"
	}
}
