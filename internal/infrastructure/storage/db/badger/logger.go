package dbbadger

import (
	"github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

type logger struct {
	entry *log.Entry
	level log.Level
}

// NewLogger returns a badger.Logger writing through logrus. Messages below
// the given level are dropped.
func NewLogger(level log.Level) badger.Logger {
	return &logger{
		entry: log.WithField("component", "badger"),
		level: level,
	}
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.logf(log.ErrorLevel, format, args...)
}

func (l *logger) Warningf(format string, args ...interface{}) {
	l.logf(log.WarnLevel, format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.logf(log.InfoLevel, format, args...)
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.logf(log.DebugLevel, format, args...)
}

func (l *logger) logf(level log.Level, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	l.entry.Logf(level, format, args...)
}
