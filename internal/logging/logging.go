// Package logging builds the process-wide slog logger: colored terminal
// output, optionally teed into a per-run log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options control logger construction
type Options struct {
	Level   slog.Level
	LogFile string // when set, output is teed into this file
}

// New builds the logger and returns it with a close function for the log
// file, if any.
func New(opts Options) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	return slog.New(handler), closeFn, nil
}

// RunLogPath is the log file location for one run
func RunLogPath(dataDir, runID string) string {
	return filepath.Join(dataDir, "runs", runID, "run.log")
}
