package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sugared zap logger shared by every component
type Logger struct {
	*zap.SugaredLogger
}

func NewLogger(verbose bool) *Logger {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	z, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return &Logger{SugaredLogger: z.Sugar()}
}

// level parsed from config ("debug", "info", ...), falls back to info
func NewLoggerWithLevel(verbose bool, level string) *Logger {
	l := NewLogger(verbose)
	if verbose || level == "" {
		return l
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return l
	}
	return &Logger{SugaredLogger: l.Desugar().WithOptions(
		zap.IncreaseLevel(lvl),
	).Sugar()}
}

// discards everything, used by tests and as the zero value fallback
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// child logger for a component
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name)}
}

func (l *Logger) With(args ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// OrNop lets structs keep a nil logger field.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}
