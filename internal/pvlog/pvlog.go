// Package pvlog provides the internal diagnostics logger, adapted from
// the teacher's pkg/log: a development logger (JSON, file-backed, level
// from $LOG_LEVEL) and a production logger that discards all output. This is strictly for internal diagnostics; the display line
// itself is never routed through here (spec.md reserves stderr for the
// progress display).
package pvlog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/sirupsen/logrus"
)

// New returns a logger for the running instance. debug selects the
// development logger; both honor the version/commit fields the way the
// teacher's NewLogger attaches build metadata to every entry.
func New(debug bool, version string) *logrus.Entry {
	var log *logrus.Logger
	if debug || os.Getenv("DEBUG") == "TRUE" {
		log = newDevelopmentLogger()
	} else {
		log = newProductionLogger()
	}
	log.Formatter = &logrus.JSONFormatter{}
	return log.WithFields(logrus.Fields{
		"debug":   debug,
		"version": version,
	})
}

func levelFromEnv() logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(levelFromEnv())

	dir := xdg.CacheHome()
	_ = os.MkdirAll(dir, 0o700)
	path := filepath.Join(dir, "pv", "development.log")
	_ = os.MkdirAll(filepath.Dir(path), 0o700)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.SetOutput(io.Discard)
		return log
	}
	log.SetOutput(f)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
