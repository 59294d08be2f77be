// Package logging configures the process-wide structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}
}

// L returns the shared logger instance.
func L() *logrus.Logger { return log }

// SetDebug toggles debug-level verbosity at runtime (e.g. from config reload).
func SetDebug(on bool) {
	if on {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// IsDebug reports whether debug-level logging is active.
func IsDebug() bool {
	return log.IsLevelEnabled(logrus.DebugLevel)
}

func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

// Fields is a shorthand for logrus.Fields, used at call sites that want
// structured key/value pairs rather than a format string.
type Fields = logrus.Fields

func WithFields(f Fields) *logrus.Entry { return log.WithFields(f) }
