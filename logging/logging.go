// Package logging sets up the process-local file logger. Interactive output
// goes to the terminal; diagnostics go here so they never interleave with a
// streaming response.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parley-cli/parley/errors"
)

// New opens a JSON log file under dir for this run and returns the logger
// plus a close func. The file is named after the start timestamp.
func New(dir string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, errors.Wrap(err, "could not create log directory")
	}
	name := time.Now().Format("2006-01-02_15-04-05") + ".log"
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open log file")
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { file.Close() }, nil
}

// Discard returns a logger that drops everything. Used where a component
// requires a logger but the caller has none.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
