package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/cmd/common"
	"github.com/ducminhle1904/ea-stress/internal/leaderboard"
	"github.com/ducminhle1904/ea-stress/internal/logger"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
	"github.com/ducminhle1904/ea-stress/internal/patch"
	"github.com/ducminhle1904/ea-stress/internal/recovery"
	"github.com/ducminhle1904/ea-stress/internal/state"
	"github.com/ducminhle1904/ea-stress/pkg/config"
	"github.com/ducminhle1904/ea-stress/pkg/data"
	"github.com/ducminhle1904/ea-stress/pkg/orchestrator"
	"github.com/ducminhle1904/ea-stress/pkg/reporting"
)

// app holds the long-lived collaborators shared by every subcommand
type app struct {
	settings  config.Settings
	logConfig logger.Config
	logger    zerolog.Logger
	store     *state.Store
	board     *leaderboard.Store
	health    *monitoring.HealthChecker
	retries   int
}

// newApp loads the environment and settings, then opens the state store and
// the leaderboard. A leaderboard that cannot be opened is logged and skipped.
func newApp(ctx context.Context, flags *common.CommonFlags) (*app, error) {
	boot := logger.New(logger.Config{Level: flags.Level("info"), Pretty: *flags.Pretty, Out: os.Stderr})
	if err := common.NewEnvLoader(boot).LoadEnvFile(*flags.EnvFile); err != nil {
		boot.Warn().Err(err).Msg("Continuing with the system environment")
	}

	settings, err := config.NewFileLoader().Load(*flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if *flags.RunsDir != "" {
		settings.Paths.RunsDir = *flags.RunsDir
	}

	logCfg := logger.Config{
		Level:  flags.Level(settings.Log.Level),
		Pretty: *flags.Pretty || settings.Log.Pretty,
		Out:    os.Stderr,
	}
	log := logger.New(logCfg)
	logger.SetGlobalLogger(log)

	store, err := state.NewStore(settings.Paths.WorkflowsDir(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow store: %w", err)
	}

	health := monitoring.NewHealthChecker()
	health.SetStoreOK(true)

	board, err := leaderboard.Open(ctx, settings.Paths.LeaderboardDB(), log)
	if err != nil {
		log.Warn().Err(err).Msg("Leaderboard unavailable")
		board = nil
	}

	return &app{
		settings:  settings,
		logConfig: logCfg,
		logger:    log,
		store:     store,
		board:     board,
		health:    health,
		retries:   recovery.DefaultRetryConfig().MaxRetries,
	}, nil
}

// Close releases the leaderboard connection
func (a *app) Close() {
	if a.board != nil {
		a.board.Close()
	}
}

// workflowLogger tees the app logger into the workflow's log file when file
// logging is enabled. The returned close func is never nil.
func (a *app) workflowLogger(id string) (zerolog.Logger, func()) {
	if !a.settings.Log.ToFile {
		return a.logger, func() {}
	}
	wl, err := logger.NewWorkflowLog(a.logConfig, a.settings.Paths.LogsDir(), id)
	if err != nil {
		a.logger.Warn().Err(err).Str("workflow_id", id).Msg("Workflow log file unavailable")
		return a.logger, func() {}
	}
	return wl.Logger, func() { wl.Close() }
}

// orchestrator wires the file-exchange collaborators under the runs directory
func (a *app) orchestrator(log zerolog.Logger) (*orchestrator.WorkflowOrchestrator, error) {
	paths := a.settings.Paths

	retry := recovery.DefaultRetryConfig()
	retry.MaxRetries = a.retries

	deps := orchestrator.Dependencies{
		Toolchain: data.NewFileToolchain(filepath.Join(paths.RunsDir, "exchange"), log),
		Advisor:   data.NewFileAdvisor(paths.AnalysisDir(), log),
		Patches:   patch.NewFileApplier(filepath.Join(paths.RunsDir, "versions"), log),
		Reporter:  reporting.NewWorkflowReporter(reporting.DefaultReportingConfig(paths.ReportsDir()), log).WithOutput(os.Stdout),
		Resolver:  data.NewTerminalLocator(nil, log),
		Store:     a.store,
		Health:    a.health,
		Retry:     recovery.NewRecoveryHandler(retry, log),
	}
	if a.board != nil {
		deps.Leaderboard = a.board
	}
	return orchestrator.NewOrchestrator(a.settings, deps, log)
}
