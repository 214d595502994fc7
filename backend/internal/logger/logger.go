package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var _log = logrus.New()

// Init configures the process logger. format is "json" or "text"; unknown
// levels fall back to info.
func Init(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	_log.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	_log.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		_log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		_log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Output resolves LOG_OUTPUT into a writer. "stdout" (or empty) writes to
// stdout only; anything else is a file path that is rotated and mirrored to stdout.
func Output(target string) (io.Writer, error) {
	if target == "" || target == "stdout" {
		return os.Stdout, nil
	}
	rotator, err := Rotating(target)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(os.Stdout, rotator), nil
}

// Rotating returns a size-rotated file writer, creating the parent directory.
func Rotating(path string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}, nil
}

// Log returns a standard logger entry to use across packages.
func Log() *logrus.Entry {
	return logrus.NewEntry(_log)
}

// WithFields returns a logger entry with provided fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log().WithFields(fields)
}
