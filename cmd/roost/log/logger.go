// Package log sets up the process-wide slog logger: text handler writing to
// stdout and a buffered per-run log file.
package log

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	logFile *os.File
	writer  *bufio.Writer
)

func NewLogger(debug bool, saveDirectory, profile string) (*slog.Logger, error) {
	if saveDirectory == "" {
		saveDirectory = "logs"
	}
	if err := os.MkdirAll(saveDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("error creating log directory %s: %w", saveDirectory, err)
	}

	name := fmt.Sprintf("roost-%s.txt", time.Now().Format("2006-01-02-15_04_05"))
	if profile != "" {
		name = fmt.Sprintf("roost-%s-%s.txt", profile, time.Now().Format("2006-01-02-15_04_05"))
	}

	file, err := os.Create(filepath.Clean(filepath.Join(saveDirectory, name)))
	if err != nil {
		return nil, fmt.Errorf("error creating log file: %w", err)
	}

	mu.Lock()
	logFile = file
	writer = bufio.NewWriter(file)
	out := io.MultiWriter(os.Stdout, writer)
	mu.Unlock()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return logger, nil
}

// FlushLog forces buffered log lines to disk. Used after recovering a panic,
// when the process may be about to die.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Flush()
	}
}

func FlushAndClose() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Flush()
		writer = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
