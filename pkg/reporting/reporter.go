package reporting

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// Report file names inside a run's output directory
const (
	JSONReportName = "report.json"
	WorkbookName   = "report.xlsx"
	TradesCSVName  = "best_trades.csv"
)

// WorkflowReporter writes every enabled artifact of a finished run
type WorkflowReporter struct {
	config  ReportingConfig
	console *DefaultConsoleReporter
	csv     *DefaultCSVReporter
	excel   *DefaultExcelReporter
	json    *DefaultJSONFormatter
	paths   *DefaultPathManager
	out     io.Writer
	logger  zerolog.Logger
}

// NewWorkflowReporter creates a reporter writing under config.OutputDirectory
func NewWorkflowReporter(config ReportingConfig, logger zerolog.Logger) *WorkflowReporter {
	return &WorkflowReporter{
		config:  config,
		console: NewDefaultConsoleReporter(),
		csv:     NewDefaultCSVReporter(),
		excel:   NewDefaultExcelReporter(),
		json:    NewDefaultJSONFormatter(),
		paths:   NewDefaultPathManager(),
		out:     os.Stdout,
		logger:  logger.With().Str("component", "reporter").Logger(),
	}
}

// WithOutput redirects the console tables
func (r *WorkflowReporter) WithOutput(w io.Writer) *WorkflowReporter {
	r.out = w
	return r
}

// Report writes the enabled artifacts and returns their paths in the order
// JSON, workbook, trades CSV
func (r *WorkflowReporter) Report(ctx context.Context, st workflow.State) ([]string, error) {
	dir := r.paths.OutputDir(r.config.OutputDirectory, st)

	type artifact struct {
		enabled bool
		name    string
		write   func(workflow.State, string) error
	}
	artifacts := []artifact{
		{r.config.JSONEnabled, JSONReportName, r.json.WriteJSONReport},
		{r.config.ExcelEnabled, WorkbookName, r.excel.WriteWorkbook},
		{r.config.CSVEnabled, TradesCSVName, r.csv.WriteTradesCSV},
	}

	var paths []string
	for _, a := range artifacts {
		if !a.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path := filepath.Join(dir, a.name)
		if err := a.write(st, path); err != nil {
			return paths, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "reporter", "write_report").
				WithContext("path", path)
		}
		paths = append(paths, path)
	}

	if r.config.EnableConsole {
		r.console.RenderSummary(r.out, st)
	}

	r.logger.Info().
		Str("workflow_id", st.ID).
		Strs("paths", paths).
		Msg("Reports written")
	return paths, nil
}
