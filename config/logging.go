package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

type closers []io.Closer

func (cs closers) Close() error {
	var err error
	for _, c := range cs {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// SetupLogging configures the global logrus logger from c. The returned
// closer releases any log files and should be closed on exit.
func SetupLogging(c LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	var writers []io.Writer
	var files closers
	for _, out := range c.Outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := openLogFile(out, c.Rotation)
			if err != nil {
				_ = files.Close()
				return nil, err
			}
			writers = append(writers, w)
			files = append(files, w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	logrus.SetLevel(level)
	if strings.ToLower(c.Format) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(io.MultiWriter(writers...))

	return files, nil
}

func openLogFile(path string, r RotationConfig) (io.WriteCloser, error) {
	if r.Enable {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(r.MaxSizeMB, 1),
			MaxBackups: r.MaxBackups,
			MaxAge:     r.MaxAgeDays,
			Compress:   r.Compress,
		}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
