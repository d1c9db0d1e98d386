// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	mu         sync.Mutex
	fileHandle *os.File
)

// Options controls logger behavior. The zero value logs info-level text
// to stderr, which is what the CLI wants; the daemon passes a file.
type Options struct {
	Debug bool
	// JSON switches to machine-readable output for log shippers.
	JSON bool
	// File appends a copy of the stream to the given path.
	File string
}

// Setup configures the global logger. Idempotent; the most recent call
// wins, and any previously opened log file is closed.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	var formatter log.Formatter = &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	}
	if opts.JSON {
		formatter = &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	log.SetFormatter(formatter)

	level := log.InfoLevel
	if opts.Debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	writers := []io.Writer{os.Stderr}

	if fileHandle != nil {
		_ = fileHandle.Close()
		fileHandle = nil
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		fileHandle = file
		writers = append(writers, file)
	}

	log.SetOutput(io.MultiWriter(writers...))
	return nil
}
