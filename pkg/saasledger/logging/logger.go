package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. It is usable before Init with logrus defaults.
var Logger = logrus.New()

// Options configures the global logger
type Options struct {
	Level  string // trace|debug|info|warn|error
	Format string // text|json
	Output io.Writer
}

// Init configures the global logger from opts
func Init(opts Options) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	Logger = l
	return l
}
