// Package log provides the structured logger shared by every component.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"firestige.xyz/strouter/internal/config"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

const (
	DefaultPattern    = "%time [%level] %field %msg%n"
	DefaultTimeFormat = "2006-01-02 15:04:05.000"
)

// base is configured in place by Init so that loggers handed out before
// Init follow the new settings.
var (
	base          = newBase()
	logger Logger = entryLogger{logrus.NewEntry(base)}
	closer io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: DefaultTimeFormat})
	return l
}

// GetLogger returns the process logger. It is usable before Init.
func GetLogger() Logger {
	return logger
}

// Init applies cfg to the process logger. It may be called again on reload.
func Init(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var formatter logrus.Formatter
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: timeFormat}
	case "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timeFormat, DisableColors: true}
	case "pattern":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultPattern
		}
		formatter = &patternFormatter{pattern: pattern, time: timeFormat}
	default:
		return fmt.Errorf("unsupported log format: %s (must be json, text or pattern)", cfg.Format)
	}

	out := NewMultiWriter().Add(os.Stdout)
	var fileCloser io.Closer
	if cfg.Outputs.File.Enabled {
		if cfg.Outputs.File.Path == "" {
			return fmt.Errorf("file output requires 'path' field")
		}
		fileCloser = out.AddFileAppender(FileAppenderOpt{
			Filename:   cfg.Outputs.File.Path,
			MaxSize:    cfg.Outputs.File.Rotation.MaxSizeMB,
			MaxBackups: cfg.Outputs.File.Rotation.MaxBackups,
			MaxAge:     cfg.Outputs.File.Rotation.MaxAgeDays,
			Compress:   cfg.Outputs.File.Rotation.Compress,
		})
	}

	base.SetFormatter(formatter)
	base.SetLevel(level)
	base.SetReportCaller(cfg.ReportCaller)
	base.SetOutput(out)

	if closer != nil {
		closer.Close()
	}
	closer = fileCloser
	return nil
}

// Flush closes the file appender, if any.
func Flush() {
	if closer != nil {
		closer.Close()
		closer = nil
	}
}

// SetOutput redirects the process logger, mostly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}
