package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger and returns it.
// format is "text" or "json".
func Setup(level, format string) (*logrus.Logger, error) {
	return Configure(logrus.StandardLogger(), os.Stderr, level, format)
}

// Configure applies level, format and output to logger
func Configure(logger *logrus.Logger, out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	logger.SetOutput(out)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
