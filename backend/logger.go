package backend

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract shared by workers, stores, listeners and the host.
type Logger interface {
	Debug(v ...any)
	Debugf(format string, v ...any)
	Info(v ...any)
	Infof(format string, v ...any)
	Warn(v ...any)
	Warnf(format string, v ...any)
	Error(v ...any)
	Errorf(format string, v ...any)
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelPrefixes = [...]string{"DEBUG: ", "INFO: ", "WARNING: ", "ERROR: "}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// stdLogger writes level-prefixed lines through the standard log package.
type stdLogger struct {
	min Level
	out [len(levelPrefixes)]*log.Logger
}

// NewStdLogger returns a Logger that writes lines at or above min to w.
func NewStdLogger(w io.Writer, min Level) Logger {
	l := &stdLogger{min: min}
	for i, prefix := range levelPrefixes {
		l.out[i] = log.New(w, prefix, log.LstdFlags)
	}
	return l
}

var defaultLogger = NewStdLogger(log.Writer(), LevelDebug)

func DefaultLogger() Logger {
	return defaultLogger
}

func (l *stdLogger) print(level Level, v []any) {
	if level >= l.min {
		l.out[level].Print(v...)
	}
}

func (l *stdLogger) printf(level Level, format string, v []any) {
	if level >= l.min {
		l.out[level].Printf(format, v...)
	}
}

func (l *stdLogger) Debug(v ...any)                 { l.print(LevelDebug, v) }
func (l *stdLogger) Debugf(format string, v ...any) { l.printf(LevelDebug, format, v) }
func (l *stdLogger) Info(v ...any)                  { l.print(LevelInfo, v) }
func (l *stdLogger) Infof(format string, v ...any)  { l.printf(LevelInfo, format, v) }
func (l *stdLogger) Warn(v ...any)                  { l.print(LevelWarn, v) }
func (l *stdLogger) Warnf(format string, v ...any)  { l.printf(LevelWarn, format, v) }
func (l *stdLogger) Error(v ...any)                 { l.print(LevelError, v) }
func (l *stdLogger) Errorf(format string, v ...any) { l.printf(LevelError, format, v) }

// structuredLogger forwards formatted messages to a go-logger instance.
type structuredLogger struct {
	logger glog.Logger
}

// NewStructuredLogger adapts a go-logger instance to Logger.
func NewStructuredLogger(l glog.Logger) Logger {
	return &structuredLogger{logger: l}
}

func (s *structuredLogger) Debug(v ...any) { s.logger.Debug(fmt.Sprint(v...)) }
func (s *structuredLogger) Debugf(format string, v ...any) {
	s.logger.Debug(fmt.Sprintf(format, v...))
}
func (s *structuredLogger) Info(v ...any) { s.logger.Info(fmt.Sprint(v...)) }
func (s *structuredLogger) Infof(format string, v ...any) {
	s.logger.Info(fmt.Sprintf(format, v...))
}
func (s *structuredLogger) Warn(v ...any) { s.logger.Warn(fmt.Sprint(v...)) }
func (s *structuredLogger) Warnf(format string, v ...any) {
	s.logger.Warn(fmt.Sprintf(format, v...))
}
func (s *structuredLogger) Error(v ...any) { s.logger.Error(fmt.Sprint(v...)) }
func (s *structuredLogger) Errorf(format string, v ...any) {
	s.logger.Error(fmt.Sprintf(format, v...))
}
