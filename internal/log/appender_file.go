package log

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

type FileAppenderOpt struct {
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// AddFileAppender adds a rotating file and returns it so the caller can close
// it on shutdown.
func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) io.Closer {
	writer := &lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize,    // megabytes
		MaxBackups: options.MaxBackups, // number of backups
		MaxAge:     options.MaxAge,     // days
		Compress:   options.Compress,
	}
	m.Add(writer)
	return writer
}
