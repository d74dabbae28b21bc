// Package ops provides the ambient logging and metrics surface shared by
// every long-lived component of the engine: collections, sync ingestion,
// and live-query runtimes.
package ops

import (
	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface components depend on. It is
// satisfied by *logrus.Entry, which is what NewLogger returns; tests may
// substitute a logrus.Entry built over a logrus.Logger with an in-memory
// hook.
type Logger = *logrus.Entry

// NewLogger returns a Logger pre-populated with identifying fields, mirroring
// the (component).log() idiom: call sites never construct logrus.Fields by
// hand, they attach identity once and log plain messages afterward.
func NewLogger(fields logrus.Fields) Logger {
	return logrus.WithFields(fields)
}

// NopLogger discards everything, for tests that don't care about log output.
func NopLogger() Logger {
	var l = logrus.New()
	l.SetOutput(discard{})
	return logrus.NewEntry(l)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
