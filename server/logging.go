package server

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the log section of the config
func NewLogger(config *Config, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	level, err := logrus.ParseLevel(config.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %v", config.Log.Level, err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)

	switch config.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Log.Format)
	}

	return log, nil
}
