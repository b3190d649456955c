// Package crashlog records which section the agent is working on, so a crash leaves a
// trace pointing at the section that was running.
package crashlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the name of the crash log inside the state directory.
const FileName = "crash.log"

// maxSizeMB caps a single crash log. A trace is one line per section, so only a
// long running agent ever reaches it.
const maxSizeMB = 10

// Log writes one record per trace to a file. It implements section.Logger.
type Log struct {
	path   string
	file   *lumberjack.Logger
	logger *slog.Logger
}

// Open starts a new crash log at path. The log of the previous run is kept next to it
// as a timestamped backup (crash-<time>.log); older backups are removed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create crash log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 1,
		LocalTime:  true,
	}
	if err := file.Rotate(); err != nil {
		return nil, fmt.Errorf("failed to rotate crash log: %w", err)
	}

	return &Log{
		path:   path,
		file:   file,
		logger: slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}, nil
}

// CrashLog writes a trace record. Write errors are ignored: a broken crash log must
// never stop the agent from producing output.
func (l *Log) CrashLog(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Close() error {
	return l.file.Close()
}
