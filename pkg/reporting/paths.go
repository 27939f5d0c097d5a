package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// DefaultPathManager implements path management functionality
type DefaultPathManager struct{}

// NewDefaultPathManager creates a new path manager
func NewDefaultPathManager() *DefaultPathManager {
	return &DefaultPathManager{}
}

// OutputDir returns <root>/<SYMBOL>_<timeframe>/<workflow-id>
func (p *DefaultPathManager) OutputDir(root string, st workflow.State) string {
	s := strings.ToUpper(strings.TrimSpace(st.Symbol))
	tf := strings.ToUpper(strings.TrimSpace(st.Timeframe))
	if s == "" {
		s = "UNKNOWN"
	}
	if tf == "" {
		tf = "UNKNOWN"
	}
	id := st.ID
	if id == "" {
		id = "unsaved"
	}
	return filepath.Join(root, fmt.Sprintf("%s_%s", s, tf), id)
}

// EnsureDirectoryExists creates the parent directory of path
func (p *DefaultPathManager) EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
