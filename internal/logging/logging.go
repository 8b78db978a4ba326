// Package logging provides the emulator-wide logger.
//
// The shape mirrors the teacher's util/dbg package: a small interface
// plus a package-level instance, but backed by logrus instead of a
// build-tag-switched stdlib logger, so every component gets structured,
// leveled, field-scoped output for free.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stdout)
	root.SetLevel(logrus.InfoLevel)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects the append-only trace log (spec.md §6) to w.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

// SetLevel adjusts verbosity; cmd/pspemu wires --trace-svcs and
// --psp-dbg-mode to this.
func SetLevel(level logrus.Level) {
	root.SetLevel(level)
}

// For returns a logger scoped to a component, e.g. logging.For("ccd").
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// WithRunID scopes a logger to a single emulator session, so every line
// in a trace log can be correlated back to one run.
func WithRunID(entry *logrus.Entry, runID string) *logrus.Entry {
	return entry.WithField("run", runID)
}
