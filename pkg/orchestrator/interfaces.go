package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/stats"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
)

// ConfigResolver locates the terminal installation. It returns a
// configuration error when none can be found.
type ConfigResolver interface {
	Resolve(ctx context.Context, current *workflow.ConfigResolution) (workflow.ConfigResolution, error)
}

// CompileResult is the outcome of compiling one EA source
type CompileResult struct {
	Success      bool     `json:"success"`
	CompiledPath string   `json:"compiled_path,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ExtractResult lists the EA inputs and which functions read them
type ExtractResult struct {
	Parameters []workflow.Parameter `json:"parameters"`
	UsageMap   map[string][]string  `json:"usage_map,omitempty"`
}

// BacktestRequest is one tester run of a compiled EA. A zero ForwardDate
// runs without a forward split.
type BacktestRequest struct {
	WorkflowID   string            `json:"workflow_id"`
	Label        string            `json:"label"`
	ExpertPath   string            `json:"expert_path"`
	Symbol       string            `json:"symbol"`
	Timeframe    string            `json:"timeframe"`
	Params       map[string]string `json:"params"`
	FromDate     time.Time         `json:"from_date"`
	ToDate       time.Time         `json:"to_date"`
	ForwardDate  time.Time         `json:"forward_date"`
	Deposit      float64           `json:"deposit"`
	Currency     string            `json:"currency"`
	Leverage     int               `json:"leverage"`
	SpreadPips   float64           `json:"spread_pips,omitempty"`
	SlippagePips float64           `json:"slippage_pips,omitempty"`
}

// OptimizeRequest is one optimization run described by a plan
type OptimizeRequest struct {
	WorkflowID string            `json:"workflow_id"`
	ExpertPath string            `json:"expert_path"`
	Plan       optimization.Plan `json:"plan"`
}

// OptimizeResult carries the raw back and forward pass lists
type OptimizeResult struct {
	Back       []backtest.Pass `json:"back"`
	Forward    []backtest.Pass `json:"forward"`
	ReportPath string          `json:"report_path,omitempty"`
}

// Toolchain is the external terminal: compiler, input extractor and tester.
// Transient failures should be returned as retryable toolchain errors.
type Toolchain interface {
	Compile(ctx context.Context, sourcePath string) (CompileResult, error)
	ExtractParameters(ctx context.Context, sourcePath string) (ExtractResult, error)
	Backtest(ctx context.Context, req BacktestRequest) (*backtest.Result, error)
	Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error)
}

// AnalysisRequest asks the advisor to propose validation values and ranges
type AnalysisRequest struct {
	WorkflowID string               `json:"workflow_id"`
	EAName     string               `json:"ea_name"`
	Symbol     string               `json:"symbol"`
	Timeframe  string               `json:"timeframe"`
	SourcePath string               `json:"source_path"`
	Parameters []workflow.Parameter `json:"parameters"`
	UsageMap   map[string][]string  `json:"usage_map,omitempty"`
}

// ProposalRequest asks the advisor for an improvement proposal after Pass 1
type ProposalRequest struct {
	WorkflowID    string                        `json:"workflow_id"`
	EAName        string                        `json:"ea_name"`
	SourcePath    string                        `json:"source_path"`
	StatPack      *stats.StatPack               `json:"stat_pack"`
	TopPasses     []backtest.Pass               `json:"top_passes"`
	Ranges        []optimization.ParameterRange `json:"ranges"`
	FeedbackPaths []string                      `json:"feedback_paths,omitempty"`
	Cycle         int                           `json:"cycle"`
	AllowNewLogic bool                          `json:"allow_new_logic"`
}

// AdvisorResponse is where a request was written and, for a synchronous
// advisor, the answer and where it was read from. A nil Document means a
// human or agent answers later through a resume payload.
type AdvisorResponse struct {
	RequestPath  string          `json:"request_path"`
	DocumentPath string          `json:"document_path,omitempty"`
	Document     json.RawMessage `json:"document,omitempty"`
}

// Advisor produces parameter analyses and improvement proposals. SaveArtifact
// stores documents that arrive through a review, such as a proposal or
// reviewer feedback, and returns their path.
type Advisor interface {
	RequestParameterAnalysis(ctx context.Context, req AnalysisRequest) (AdvisorResponse, error)
	RequestProposal(ctx context.Context, req ProposalRequest) (AdvisorResponse, error)
	SaveArtifact(workflowID, name string, data []byte) (string, error)
}

// PatchApplier applies an approved diff and returns the new source path
type PatchApplier interface {
	Apply(ctx context.Context, sourcePath string, p proposal.EAPatch, versionID string) (string, error)
}

// Reporter writes the final artifacts and returns their paths
type Reporter interface {
	Report(ctx context.Context, st workflow.State) ([]string, error)
}

// ChildLauncher starts an independent workflow for another symbol
type ChildLauncher interface {
	Launch(ctx context.Context, parent workflow.State, symbol string) (workflow.Child, error)
}

// Store persists workflow state. Acquire gives the caller exclusive use of
// a workflow until release; a second owner gets an error.
type Store interface {
	Acquire(id string) (release func(), err error)
	Save(st workflow.State) error
	Load(id string) (workflow.State, error)
}

// Leaderboard records completed workflows
type Leaderboard interface {
	Record(ctx context.Context, st workflow.State) error
}
