package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/pkg/orchestrator"
)

// Exchange document kinds
const (
	KindCompile  = "compile"
	KindExtract  = "extract"
	KindBacktest = "backtest"
	KindOptimize = "optimize"
)

// requestEnvelope wraps every request with an id derived from its content.
// A result naming a different request id is stale and treated as not ready.
type requestEnvelope struct {
	RequestID string      `json:"request_id"`
	Kind      string      `json:"kind"`
	Request   interface{} `json:"request"`
}

type resultHeader struct {
	RequestID string `json:"request_id,omitempty"`
}

// backtestDocument is a backtest result; trades may be inline or in a CSV
// export next to the document
type backtestDocument struct {
	backtest.Result
	TradesCSV string `json:"trades_csv,omitempty"`
}

type sourceRequest struct {
	SourcePath string `json:"source_path"`
}

type optimizeRequest struct {
	orchestrator.OptimizeRequest
	ConfigPath string `json:"config_path"`
}

// FileToolchain talks to the terminal through request and result documents.
// Each call writes its request and reads the result if the terminal side has
// produced one; a missing result is a retryable toolchain error so the retry
// policy polls for it.
type FileToolchain struct {
	exchange *ExchangeLocator
	trades   *TradeCSVReader
	filter   TradeFilter
	cache    ResultCache
	logger   zerolog.Logger
}

// NewFileToolchain creates a toolchain exchanging documents under dir
func NewFileToolchain(dir string, logger zerolog.Logger) *FileToolchain {
	return &FileToolchain{
		exchange: NewExchangeLocator(dir),
		trades:   NewTradeCSVReader(logger),
		filter:   NewDefaultTradeFilter(),
		cache:    NewMemoryCache(),
		logger:   logger.With().Str("component", "toolchain").Logger(),
	}
}

// Locator returns the exchange layout
func (t *FileToolchain) Locator() *ExchangeLocator {
	return t.exchange
}

// Compile asks the terminal to compile one EA source
func (t *FileToolchain) Compile(ctx context.Context, sourcePath string) (orchestrator.CompileResult, error) {
	var res orchestrator.CompileResult
	if _, _, err := t.exchangeDoc(ctx, "", KindCompile, sourceLabel(sourcePath), sourceRequest{SourcePath: sourcePath}, &res); err != nil {
		return orchestrator.CompileResult{}, err
	}
	return res, nil
}

// ExtractParameters asks for the EA's inputs and their usage map
func (t *FileToolchain) ExtractParameters(ctx context.Context, sourcePath string) (orchestrator.ExtractResult, error) {
	var res orchestrator.ExtractResult
	if _, _, err := t.exchangeDoc(ctx, "", KindExtract, sourceLabel(sourcePath), sourceRequest{SourcePath: sourcePath}, &res); err != nil {
		return orchestrator.ExtractResult{}, err
	}
	return res, nil
}

// Backtest runs one tester request. Parsed results are cached until the
// result document changes.
func (t *FileToolchain) Backtest(ctx context.Context, req orchestrator.BacktestRequest) (*backtest.Result, error) {
	raw, resPath, err := t.exchangeDoc(ctx, req.WorkflowID, KindBacktest, req.Label, req, nil)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(resPath)
	if statErr == nil {
		if cached, ok := t.cache.Get(resPath, info.ModTime()); ok {
			return cached, nil
		}
	}

	var doc backtestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "toolchain", KindBacktest).
			WithContext("result", resPath)
	}
	result := doc.Result
	if doc.TradesCSV != "" {
		csvPath := doc.TradesCSV
		if !filepath.IsAbs(csvPath) {
			csvPath = filepath.Join(filepath.Dir(resPath), csvPath)
		}
		trades, err := t.trades.LoadFile(csvPath)
		if err != nil {
			return nil, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "toolchain", KindBacktest)
		}
		result.Trades = trades
	}
	if err := t.filter.ValidateTimeSequence(result.Trades); err != nil {
		result.Trades = t.filter.SortByCloseTime(result.Trades)
		t.logger.Warn().Err(err).Str("label", req.Label).Msg("Trades reordered by close time")
	}

	if statErr == nil {
		t.cache.Set(resPath, info.ModTime(), &result)
	}
	t.logger.Debug().
		Str("workflow_id", req.WorkflowID).
		Str("label", req.Label).
		Int("trades", len(result.Trades)).
		Msg("Backtest result read")
	return &result, nil
}

// Optimize writes the tester configuration for a plan and reads the pass lists
func (t *FileToolchain) Optimize(ctx context.Context, req orchestrator.OptimizeRequest) (orchestrator.OptimizeResult, error) {
	label := req.Plan.ReportName
	cfgPath := t.exchange.ConfigPath(req.WorkflowID, label)
	if err := writeFileAtomic(cfgPath, []byte(req.Plan.INI(req.ExpertPath))); err != nil {
		return orchestrator.OptimizeResult{}, fmt.Errorf("failed to write tester configuration: %w", err)
	}

	var res orchestrator.OptimizeResult
	if _, _, err := t.exchangeDoc(ctx, req.WorkflowID, KindOptimize, label, optimizeRequest{OptimizeRequest: req, ConfigPath: cfgPath}, &res); err != nil {
		return orchestrator.OptimizeResult{}, err
	}
	return res, nil
}

// exchangeDoc writes the request and reads the matching result. When out is
// non-nil the result is decoded into it.
func (t *FileToolchain) exchangeDoc(ctx context.Context, workflowID, kind, label string, request, out interface{}) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	id, err := requestID(kind, request)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s request: %w", kind, err)
	}
	reqPath := t.exchange.RequestPath(workflowID, kind, label)
	resPath := t.exchange.ResultPath(workflowID, kind, label)
	if err := writeJSON(reqPath, requestEnvelope{RequestID: id, Kind: kind, Request: request}); err != nil {
		return nil, resPath, fmt.Errorf("failed to write %s request: %w", kind, err)
	}

	raw, err := os.ReadFile(resPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, resPath, notReady(kind, resPath)
	}
	if err != nil {
		return nil, resPath, wferrors.NewToolchainError("toolchain", kind, err)
	}

	var header resultHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, resPath, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "toolchain", kind).
			WithContext("result", resPath)
	}
	if header.RequestID != "" && header.RequestID != id {
		return nil, resPath, notReady(kind, resPath)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, resPath, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "toolchain", kind).
				WithContext("result", resPath)
		}
	}
	return raw, resPath, nil
}

func notReady(kind, path string) error {
	return wferrors.NewToolchainError("toolchain", kind, fmt.Errorf("result %s not ready", path)).
		WithContext("result", path)
}

func requestID(kind string, request interface{}) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(kind+"\n"), data...))
	return hex.EncodeToString(sum[:8]), nil
}

// sourceLabel names compile and extract documents after the source file,
// with a short hash of the full path to keep versions apart
func sourceLabel(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	sum := sha256.Sum256([]byte(path))
	return stem + "_" + hex.EncodeToString(sum[:4])
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over the destination
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
