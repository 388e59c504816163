package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// entryLogger satisfies Logger with a logrus entry. The leveled methods come
// from the embedded entry; the chaining methods are wrapped so they keep
// returning Logger.
type entryLogger struct {
	*logrus.Entry
}

func (l entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{l.Entry.WithField(key, value)}
}

func (l entryLogger) WithFields(fields map[string]interface{}) Logger {
	return entryLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l entryLogger) WithError(err error) Logger {
	return entryLogger{l.Entry.WithError(err)}
}

func (l entryLogger) IsTraceEnabled() bool { return l.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (l entryLogger) IsDebugEnabled() bool { return l.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (l entryLogger) IsInfoEnabled() bool  { return l.Logger.IsLevelEnabled(logrus.InfoLevel) }

// ForComponent tags records with a daemon component name.
func ForComponent(name string) Logger {
	return GetLogger().WithField("component", name)
}

// ForLayer tags records with a layer node identity such as ARP1.
func ForLayer(id fmt.Stringer) Logger {
	return GetLogger().WithField("layer", id.String())
}
