package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/pkg/orchestrator"
)

// FileAdvisor writes advisor requests under the analysis directory and
// returns an answer when one has already been dropped next to the request.
// Otherwise the workflow pauses until the answer arrives as a resume payload.
type FileAdvisor struct {
	dir    string
	logger zerolog.Logger
}

// NewFileAdvisor creates an advisor exchanging documents under dir
func NewFileAdvisor(dir string, logger zerolog.Logger) *FileAdvisor {
	return &FileAdvisor{
		dir:    dir,
		logger: logger.With().Str("component", "advisor").Logger(),
	}
}

// RequestParameterAnalysis writes param_analysis_request.json and reads
// param_analysis.json if present
func (a *FileAdvisor) RequestParameterAnalysis(ctx context.Context, req orchestrator.AnalysisRequest) (orchestrator.AdvisorResponse, error) {
	dir := filepath.Join(a.dir, SanitizeName(req.WorkflowID))
	return a.exchange(ctx, req,
		filepath.Join(dir, "param_analysis_request.json"),
		filepath.Join(dir, "param_analysis.json"))
}

// RequestProposal writes proposal_request_<cycle>.json and reads
// proposal_<cycle>.json if present
func (a *FileAdvisor) RequestProposal(ctx context.Context, req orchestrator.ProposalRequest) (orchestrator.AdvisorResponse, error) {
	dir := filepath.Join(a.dir, SanitizeName(req.WorkflowID))
	return a.exchange(ctx, req,
		filepath.Join(dir, fmt.Sprintf("proposal_request_%d.json", req.Cycle)),
		filepath.Join(dir, fmt.Sprintf("proposal_%d.json", req.Cycle)))
}

func (a *FileAdvisor) exchange(ctx context.Context, req interface{}, reqPath, respPath string) (orchestrator.AdvisorResponse, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.AdvisorResponse{}, err
	}
	if err := writeJSON(reqPath, req); err != nil {
		return orchestrator.AdvisorResponse{}, fmt.Errorf("failed to write advisor request: %w", err)
	}
	resp := orchestrator.AdvisorResponse{RequestPath: reqPath}

	raw, err := os.ReadFile(respPath)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Info().Str("request", reqPath).Msg("Advisor request written, awaiting answer")
		return resp, nil
	}
	if err != nil {
		return resp, fmt.Errorf("failed to read advisor answer: %w", err)
	}
	if !json.Valid(raw) {
		a.logger.Warn().Str("answer", respPath).Msg("Advisor answer is not valid JSON, ignoring")
		return resp, nil
	}
	resp.Document = json.RawMessage(raw)
	resp.DocumentPath = respPath
	return resp, nil
}

// SaveArtifact writes a review document under the workflow's analysis
// directory
func (a *FileAdvisor) SaveArtifact(workflowID, name string, data []byte) (string, error) {
	dir := filepath.Join(a.dir, SanitizeName(workflowID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create analysis directory: %w", err)
	}
	path := filepath.Join(dir, SanitizeName(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write advisor artifact: %w", err)
	}
	a.logger.Debug().Str("workflow_id", workflowID).Str("artifact", path).Msg("Advisor artifact saved")
	return path, nil
}
