// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the root logger. Local environments get a colored text
// formatter, everything else JSON. Level comes from LOG_LEVEL.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}
