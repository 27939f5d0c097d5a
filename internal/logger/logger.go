package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // Enable pretty console output
	Out    io.Writer
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new structured logger
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// Nop returns a disabled logger for tests and quiet callers
func Nop() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// WorkflowLog is a logger that also writes JSON lines to a per-workflow file
type WorkflowLog struct {
	zerolog.Logger
	file *os.File
	Path string
}

// Close closes the log file
func (w *WorkflowLog) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// NewWorkflowLog tees base output into logs/<workflow>_<date>.log under dir.
// The file always receives JSON regardless of console formatting.
func NewWorkflowLog(cfg Config, dir, workflowID string) (*WorkflowLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", workflowID, time.Now().Format("2006-01-02"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var console io.Writer = cfg.Out
	if console == nil {
		console = os.Stdout
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(zerolog.MultiLevelWriter(console, file)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("workflow_id", workflowID).
		Logger()

	return &WorkflowLog{Logger: l, file: file, Path: path}, nil
}
