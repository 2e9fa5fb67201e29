package logger

import (
	"go.uber.org/zap"
)

// Phase symbols tag log lines with the handshake phase they belong to, so
// logs stay queryable by phase without cluttering the message text.
//
// Usage:
//
//	// Instead of:
//	logger.Infow(SymAccept + " endpoint accepted", "index", idx)
//
//	// Use:
//	logger.AcceptInfow("endpoint accepted", "index", idx)
const (
	SymAccept  = "⊕" // accept / connect phase (S0)
	SymParams  = "⊗" // parameter read phase (S1)
	SymDaemon  = "⋈" // daemon RPC phase (S3)
	SymHandoff = "⇄" // IO handle hand-off phase (S4/S5)
	SymRecycle = "↻" // endpoint recycle
)

// AcceptInfow logs an info message tagged with the accept-phase symbol.
func AcceptInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymAccept}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// AcceptDebugw logs a debug message tagged with the accept-phase symbol.
func AcceptDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymAccept}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// AcceptErrorw logs an error tagged with the accept-phase symbol.
func AcceptErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymAccept}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// ParamsDebugw logs a debug message tagged with the parameter-read-phase symbol.
func ParamsDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymParams}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// ParamsWarnw logs a warning tagged with the parameter-read-phase symbol.
func ParamsWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymParams}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// DaemonInfow logs an info message tagged with the daemon-RPC-phase symbol.
func DaemonInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymDaemon}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// DaemonErrorw logs an error tagged with the daemon-RPC-phase symbol.
func DaemonErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymDaemon}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// HandoffInfow logs an info message tagged with the IO-handle-handoff symbol.
func HandoffInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymHandoff}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// HandoffErrorw logs an error tagged with the IO-handle-handoff symbol.
func HandoffErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymHandoff}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// RecycleInfow logs an info message tagged with the recycle symbol.
func RecycleInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymRecycle}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// WithSymbol returns a logger with the given symbol as a field, for ad-hoc
// symbol usage not covered by the helpers above.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// SymbolInfow logs with any symbol - for dynamic symbol usage.
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
