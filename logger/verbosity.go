package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
//
// The daemon logs at Info by default; -v enables Debug. Extra -v flags
// are accepted but do not unlock finer levels (zap stops at Debug).
const (
	VerbosityDefault = 0 // No flags: info and above
	VerbosityDebug   = 1 // -v: + debug messages
)

// VerbosityToLevel maps verbosity flags (-v, -vv, etc.) to zap log levels
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity >= VerbosityDebug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// LevelName returns a human-readable name for verbosity level
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityDefault:
		return "Info"
	case verbosity == VerbosityDebug:
		return "Debug (-v)"
	default:
		return "Debug (-vv+)"
	}
}
