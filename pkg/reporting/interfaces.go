package reporting

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// Package reporting renders the final artifacts of a workflow run

// ConsoleReporter prints the run summary as tables
type ConsoleReporter interface {
	RenderSummary(w io.Writer, st workflow.State)
}

// FileReporter writes the report files of a run
type FileReporter interface {
	WriteJSONReport(st workflow.State, path string) error
	WriteWorkbook(st workflow.State, path string) error
	WriteTradesCSV(st workflow.State, path string) error
}

// ExcelFormatter writes one sheet of the workbook
type ExcelFormatter interface {
	WritePassesSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error
	WriteGatesSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error
	WriteBucketsSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error
	WriteSensitivitySheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error
	WriteMonteCarloSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error
}

// PathManager places the report files of a run
type PathManager interface {
	OutputDir(root string, st workflow.State) string
	EnsureDirectoryExists(path string) error
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle  int
	NumberStyle  int
	BaseStyle    int
	PassStyle    int
	FailStyle    int
	SummaryStyle int
}

// ReportingConfig holds configuration for reporting
type ReportingConfig struct {
	EnableConsole   bool
	OutputDirectory string
	ExcelEnabled    bool
	CSVEnabled      bool
	JSONEnabled     bool
}

// DefaultReportingConfig enables every output under dir
func DefaultReportingConfig(dir string) ReportingConfig {
	return ReportingConfig{
		EnableConsole:   true,
		OutputDirectory: dir,
		ExcelEnabled:    true,
		CSVEnabled:      true,
		JSONEnabled:     true,
	}
}
