// Package logging builds the structured logger shared by every binary.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/config"
)

// Logger is the logger type passed between packages.
type Logger = *logrus.Logger

// Fields is a set of structured log fields.
type Fields = logrus.Fields

// #region constructors

// New returns a JSON logger at the LOG_LEVEL level, tagging every entry
// with the service name.
func New(service string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	logger.AddHook(serviceHook{service: service})
	return logger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// #endregion constructors

// #region service-hook

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	return nil
}

// #endregion service-hook
