// Package logger provides the custom logrus formatter and level parsing
// behind the engine's default logger, which the manifest logs its
// rewrite and batch-undo failures through.
package logger

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// CustomFormatter renders a log line as "[time] [LEVL] (caller) message",
// skipping logrus's own call frames when locating the caller.
type CustomFormatter struct {
	TimestampFormat string
}

// Format implements logrus.Formatter.
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format(f.timestampFormat())
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	caller := callerInfo()

	msg := fmt.Sprintf("[%s] [%s] (%s) %s", ts, level, caller, entry.Message)
	if len(entry.Data) > 0 {
		for k, v := range entry.Data {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return append([]byte(msg), '\n'), nil
}

func (f *CustomFormatter) timestampFormat() string {
	if f.TimestampFormat == "" {
		return "15:04:05 MST 2006/01/02"
	}
	return f.TimestampFormat
}

func callerInfo() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") ||
			strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/entry.go") ||
			strings.Contains(file, "logger/logger.go") {
			continue
		}
		funcName := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
	}
	return "unknown:unknown:0"
}

// ParseLevel maps a configuration string to a logrus.Level, defaulting
// to Info for anything unrecognized.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// New builds a logrus.Logger using CustomFormatter, at the given level.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{})
	l.SetLevel(ParseLevel(level))
	return l
}
