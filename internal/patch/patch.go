package patch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/rs/zerolog"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
)

// ProtectedMarkers tag code injected into the EA before optimization; a
// patch may move them but never drop one
var ProtectedMarkers = []string{
	"EA_STRESS_ONTESTER_INJECTED",
	"EA_STRESS_SAFETY_INJECTED",
}

// ApplyDiff applies a single-file unified diff to source. Any parse or apply
// problem is a SCHEMA error on ea_patch.diff.
func ApplyDiff(source []byte, diff string) ([]byte, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return nil, rejected("could not parse diff: %v", err)
	}
	if len(files) != 1 {
		return nil, rejected("diff must change exactly one file, got: %d", len(files))
	}
	f := files[0]
	if f.IsBinary || f.IsNew || f.IsDelete || f.IsRename {
		return nil, rejected("diff must modify the EA source in place")
	}
	if len(f.TextFragments) == 0 {
		return nil, rejected("diff has no hunks")
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(source), f); err != nil {
		return nil, rejected("diff does not apply cleanly: %v", err)
	}

	for _, m := range ProtectedMarkers {
		before, after := bytes.Count(source, []byte(m)), bytes.Count(out.Bytes(), []byte(m))
		if after < before {
			return nil, rejected("diff removes protected code marked %s", m)
		}
	}
	return out.Bytes(), nil
}

func rejected(format string, args ...interface{}) error {
	s := &wferrors.SchemaError{Payload: "ea patch"}
	s.Add("ea_patch.diff", format, args...)
	return s.AsWorkflowError("patch", "apply")
}

// FileApplier writes patched EA versions next to the workflow's analysis files
type FileApplier struct {
	dir    string
	logger zerolog.Logger
}

// NewFileApplier creates an applier writing under dir
func NewFileApplier(dir string, logger zerolog.Logger) *FileApplier {
	return &FileApplier{
		dir:    dir,
		logger: logger.With().Str("component", "patch").Logger(),
	}
}

// Apply reads the active source, applies the patch and writes the result as
// <stem>_<versionID><ext>. The diff is saved alongside for the audit trail.
func (a *FileApplier) Apply(ctx context.Context, sourcePath string, p proposal.EAPatch, versionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read EA source %s: %w", sourcePath, err)
	}
	patched, err := ApplyDiff(src, p.Diff)
	if err != nil {
		a.logger.Warn().Err(err).Str("source", sourcePath).Msg("Patch rejected")
		return "", err
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create patch directory: %w", err)
	}
	ext := filepath.Ext(sourcePath)
	stem := strings.TrimSuffix(filepath.Base(sourcePath), ext)
	outPath := filepath.Join(a.dir, fmt.Sprintf("%s_%s%s", stem, versionID, ext))

	if err := os.WriteFile(outPath, patched, 0644); err != nil {
		return "", fmt.Errorf("failed to write patched EA: %w", err)
	}
	record := fmt.Sprintf("Description: %s\n\n%s", p.Description, p.Diff)
	if err := os.WriteFile(strings.TrimSuffix(outPath, ext)+".patch", []byte(record), 0644); err != nil {
		return "", fmt.Errorf("failed to write patch record: %w", err)
	}

	a.logger.Info().
		Str("source", sourcePath).
		Str("patched", outPath).
		Str("version", versionID).
		Msg("Patch applied")
	return outPath, nil
}
