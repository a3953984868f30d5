// Package definition supplies the default, concrete implementations of
// the small interfaces pkg/dupres/types declares — today, just the
// default Logger.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// DefaultLogger is the Logger implementation used when a caller does
// not plug in its own. It wraps a logrus.Logger the same way the
// teacher's DefaultLogger wraps a bare *log.Logger: one small type
// exposing the project's Logger method set, with debug-level calls
// gated behind a toggle.
type DefaultLogger struct {
	entry *logrus.Logger
	debug bool
}

// NewDefaultLogger returns a Logger writing to stderr with debug
// logging off.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: l, debug: false}
}

func (l *DefaultLogger) Info(v ...interface{})                   { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})   { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                   { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})   { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                  { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{})  { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                  { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{})  { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                  { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{})  { l.entry.Panicf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.entry.Debug(v...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.entry.Debugf(format, v...)
	}
}

// ToggleDebug sets debug-level logging to value and returns the new state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	if value {
		l.entry.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
	}
	return l.debug
}
