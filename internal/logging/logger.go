package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Messages go to stderr as text, or to
// file as JSON when file is set. The returned close function releases
// the log file and is never nil.
func New(level, file string, stderr io.Writer) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetLevel(lvl)

	if file == "" {
		if stderr == nil {
			stderr = os.Stderr
		}
		log.SetOutput(stderr)
		log.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
		})
		return log, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	return log, f.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
