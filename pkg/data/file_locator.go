package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// Environment variables consulted when the workflow has no terminal yet
const (
	EnvTerminalPath = "EA_STRESS_TERMINAL_PATH"
	EnvDataPath     = "EA_STRESS_DATA_PATH"
)

// DefaultTerminalCandidates are the usual terminal install locations
var DefaultTerminalCandidates = []string{
	`C:\Program Files\MetaTrader 5\terminal64.exe`,
	`C:\Program Files (x86)\MetaTrader 5\terminal.exe`,
	"/opt/metatrader5/terminal64.exe",
}

// TerminalLocator resolves the terminal installation for a workflow
type TerminalLocator struct {
	candidates []string
	lookup     func(string) (string, bool)
	exists     func(string) bool
	logger     zerolog.Logger
}

// NewTerminalLocator creates a locator reading the process environment
func NewTerminalLocator(candidates []string, logger zerolog.Logger) *TerminalLocator {
	if candidates == nil {
		candidates = DefaultTerminalCandidates
	}
	return &TerminalLocator{
		candidates: candidates,
		lookup:     os.LookupEnv,
		exists:     fileExists,
		logger:     logger.With().Str("component", "terminal_locator").Logger(),
	}
}

// WithLookup replaces the environment lookup
func (l *TerminalLocator) WithLookup(lookup func(string) (string, bool)) *TerminalLocator {
	l.lookup = lookup
	return l
}

// Resolve checks, in order, the workflow's current resolution, the
// environment and the candidate paths. The first existing terminal wins.
func (l *TerminalLocator) Resolve(ctx context.Context, current *workflow.ConfigResolution) (workflow.ConfigResolution, error) {
	if err := ctx.Err(); err != nil {
		return workflow.ConfigResolution{}, err
	}

	var tried []string
	if current != nil && current.TerminalPath != "" {
		if l.exists(current.TerminalPath) {
			return *current, nil
		}
		tried = append(tried, current.TerminalPath)
	}

	if path, ok := l.lookup(EnvTerminalPath); ok && strings.TrimSpace(path) != "" {
		path = strings.TrimSpace(path)
		if l.exists(path) {
			res := workflow.ConfigResolution{TerminalPath: path}
			if dataPath, ok := l.lookup(EnvDataPath); ok {
				res.DataPath = strings.TrimSpace(dataPath)
			}
			l.logger.Debug().Str("terminal", path).Msg("Terminal resolved from environment")
			return res, nil
		}
		tried = append(tried, path)
	}

	for _, path := range l.candidates {
		if l.exists(path) {
			l.logger.Debug().Str("terminal", path).Msg("Terminal resolved from default location")
			return workflow.ConfigResolution{TerminalPath: path}, nil
		}
		tried = append(tried, path)
	}

	return workflow.ConfigResolution{}, wferrors.NewConfigurationError("terminal_locator", "resolve",
		fmt.Sprintf("no terminal installation found (tried: %s); set %s or resume with a config payload",
			strings.Join(tried, ", "), EnvTerminalPath))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ExchangeLocator lays out request and result documents under a root
// directory: <root>/<workflow>/<kind>_<label>.request.json and the matching
// .result.json written by the terminal side.
type ExchangeLocator struct {
	root string
}

// NewExchangeLocator creates a locator rooted at dir
func NewExchangeLocator(root string) *ExchangeLocator {
	return &ExchangeLocator{root: root}
}

// Root returns the exchange directory
func (e *ExchangeLocator) Root() string {
	return e.root
}

// Dir returns the directory for one workflow, or the shared directory when
// workflowID is empty
func (e *ExchangeLocator) Dir(workflowID string) string {
	if workflowID == "" {
		return filepath.Join(e.root, "shared")
	}
	return filepath.Join(e.root, SanitizeName(workflowID))
}

// RequestPath is where a request document is written
func (e *ExchangeLocator) RequestPath(workflowID, kind, label string) string {
	return filepath.Join(e.Dir(workflowID), e.stem(kind, label)+".request.json")
}

// ResultPath is where the terminal side writes its answer
func (e *ExchangeLocator) ResultPath(workflowID, kind, label string) string {
	return filepath.Join(e.Dir(workflowID), e.stem(kind, label)+".result.json")
}

// ConfigPath is where a tester configuration file is written
func (e *ExchangeLocator) ConfigPath(workflowID, label string) string {
	return filepath.Join(e.Dir(workflowID), SanitizeName(label)+".ini")
}

func (e *ExchangeLocator) stem(kind, label string) string {
	if label == "" {
		return SanitizeName(kind)
	}
	return SanitizeName(kind) + "_" + SanitizeName(label)
}

// SanitizeName replaces characters that are unsafe in file names
func SanitizeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unnamed"
	}
	return s
}
