// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created inside the configured directory.
const FileName = "gateboard.log"

// Logger is a *slog.Logger that remembers where it writes.
type Logger struct {
	*slog.Logger
	// LogFile is empty when logging to stderr.
	LogFile string
	Start   time.Time

	closer io.Closer
}

// ParseLevel maps debug, info, warn and error to slog levels. ok is false
// for anything else, in which case info is returned.
func ParseLevel(level string) (lvl slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New creates a logger. With an empty dir it writes text to stderr;
// otherwise JSON to a rotating file in dir.
func New(level, dir string) *Logger {
	lvl, ok := ParseLevel(level)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: invalid log level, using info\n", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	l := &Logger{Start: time.Now()}
	if dir == "" {
		l.Logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	} else {
		w := &lumberjack.Logger{
			Filename:   filepath.Join(dir, FileName),
			MaxSize:    64, // MB
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		if lvl == slog.LevelDebug {
			w.MaxSize = 256
		}
		l.Logger = slog.New(slog.NewJSONHandler(w, opts))
		l.LogFile = w.Filename
		l.closer = w
	}

	l.Info("logging started",
		slog.String("level", lvl.String()),
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.Int("NumCPUs", runtime.NumCPU()))
	return l
}

// NewWriter creates a text logger on w, for tests and one-shot commands.
func NewWriter(level string, w io.Writer) *Logger {
	lvl, _ := ParseLevel(level)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})),
		Start:  time.Now(),
	}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
