package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ducminhle1904/ea-stress/cmd/common"
	"github.com/ducminhle1904/ea-stress/internal/server"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/orchestrator"
	"github.com/ducminhle1904/ea-stress/pkg/reporting"
)

const appName = "ea-stress"

func usage() *common.UsageFormatter {
	return common.NewUsageFormatter(appName, "EA stress-test workflow runner").
		AddCommand("run", "Start a new workflow and run it until it pauses or finishes").
		AddCommand("resume", "Apply a resume payload and continue a paused workflow").
		AddCommand("status", "Show one workflow").
		AddCommand("list", "List stored workflows").
		AddCommand("serve", "Serve the HTTP API").
		AddCommand("leaderboard", "Show the best completed runs").
		AddCommand("version", "Show version information").
		AddExample(appName+" run -ea TrendEA -source ./TrendEA.mq5 -symbol EURUSD -timeframe H1", "Stress test an EA").
		AddExample(appName+" resume -id <id> -kind param_analysis -payload analysis.json", "Answer a parameter analysis pause")
}

func main() {
	if len(os.Args) < 2 {
		usage().PrintUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCommand(ctx, args)
	case "resume":
		err = resumeCommand(ctx, args)
	case "status":
		err = statusCommand(ctx, args)
	case "list":
		err = listCommand(ctx, args)
	case "serve":
		err = serveCommand(ctx, args)
	case "leaderboard":
		err = leaderboardCommand(ctx, args)
	case "version":
		common.PrintVersion(os.Stdout, appName)
	case "help", "-h", "--help":
		usage().PrintUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage().PrintUsage(os.Stderr)
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// parse parses a subcommand's flags and opens the app
func parse(ctx context.Context, fs *flag.FlagSet, args []string, flags *common.CommonFlags, validate func(*common.FlagValidator)) (*app, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if validate != nil {
		v := common.NewFlagValidator()
		validate(v)
		if err := v.GetError(); err != nil {
			return nil, err
		}
	}
	return newApp(ctx, flags)
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	eaName := fs.String("ea", "", "EA name")
	source := fs.String("source", "", "EA source file")
	symbol := fs.String("symbol", "", "Symbol to test")
	timeframe := fs.String("timeframe", "H1", "Chart timeframe")
	retries := fs.Int("retries", 3, "Retries per toolchain call while waiting for results")

	a, err := parse(ctx, fs, args, flags, func(v *common.FlagValidator) {
		v.ValidateRequired("ea", *eaName).
			ValidateFile("source", *source, true).
			ValidateRequired("symbol", *symbol).
			ValidateInt("retries", *retries, 0, 1000)
		if strings.ContainsAny(*symbol, `/\`) {
			v.AddError("symbol must not contain path separators")
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()
	a.retries = *retries

	orch, err := a.orchestrator(a.logger)
	if err != nil {
		return err
	}
	st, err := orch.Create(orchestrator.StartRequest{
		EAName:     *eaName,
		SourcePath: *source,
		Symbol:     *symbol,
		Timeframe:  *timeframe,
	})
	if err != nil {
		return err
	}
	return a.runLogged(ctx, st.ID, func(o *orchestrator.WorkflowOrchestrator) (workflow.State, error) {
		return o.Run(ctx, st.ID)
	})
}

func resumeCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	id := fs.String("id", "", "Workflow id")
	kind := fs.String("kind", "", "Payload kind")
	payloadFile := fs.String("payload", "", "Payload JSON file")
	noRun := fs.Bool("no-run", false, "Apply the payload without continuing the run")
	retries := fs.Int("retries", 3, "Retries per toolchain call while waiting for results")

	kinds := []string{workflow.KindConfig, workflow.KindParamAnalysis, workflow.KindEAFix, workflow.KindReview, workflow.KindPassSelection}
	a, err := parse(ctx, fs, args, flags, func(v *common.FlagValidator) {
		v.ValidateRequired("id", *id).
			ValidateChoice("kind", *kind, kinds).
			ValidateFile("payload", *payloadFile, true)
	})
	if err != nil {
		return err
	}
	defer a.Close()
	a.retries = *retries

	raw, err := os.ReadFile(*payloadFile)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}
	payload, err := workflow.DecodePayload(*kind, raw)
	if err != nil {
		return err
	}

	return a.runLogged(ctx, *id, func(o *orchestrator.WorkflowOrchestrator) (workflow.State, error) {
		if *noRun {
			return o.ApplyResume(*id, payload)
		}
		return o.Resume(ctx, *id, payload)
	})
}

// runLogged runs fn with an orchestrator logging into the workflow's file and
// prints where the workflow ended up
func (a *app) runLogged(ctx context.Context, id string, fn func(*orchestrator.WorkflowOrchestrator) (workflow.State, error)) error {
	log, closeLog := a.workflowLogger(id)
	defer closeLog()

	orch, err := a.orchestrator(log)
	if err != nil {
		return err
	}
	st, err := fn(orch)
	printOutcome(st)
	return err
}

func printOutcome(st workflow.State) {
	if st.ID == "" {
		return
	}
	switch {
	case st.Status == workflow.StatusCompleted:
		fmt.Printf("✅ Workflow %s completed (go-live score %.2f)\n", st.ID, st.GoLiveScore)
		for _, p := range st.ReportPaths {
			fmt.Printf("   📄 %s\n", p)
		}
	case st.Status.IsAwaiting():
		fmt.Printf("⏸️  Workflow %s is %s\n", st.ID, st.Status)
		if st.Error != "" {
			fmt.Printf("   %s\n", st.Error)
		}
		fmt.Printf("   Resume with: %s resume -id %s -kind %s -payload <file>\n", appName, st.ID, kindFor(st.Status))
	case st.Status == workflow.StatusFailed:
		fmt.Printf("❌ Workflow %s failed: %s\n", st.ID, st.Error)
	default:
		fmt.Printf("🔄 Workflow %s is %s\n", st.ID, st.Status)
	}
}

func kindFor(s workflow.Status) string {
	switch s {
	case workflow.StatusAwaitingConfig:
		return workflow.KindConfig
	case workflow.StatusAwaitingParamAnalysis:
		return workflow.KindParamAnalysis
	case workflow.StatusAwaitingEAFix:
		return workflow.KindEAFix
	case workflow.StatusAwaitingPatchReview:
		return workflow.KindReview
	case workflow.StatusAwaitingStatsAnalysis:
		return workflow.KindPassSelection
	}
	return ""
}

func statusCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	id := fs.String("id", "", "Workflow id")
	asJSON := fs.Bool("json", false, "Print the stored document as JSON")

	a, err := parse(ctx, fs, args, flags, func(v *common.FlagValidator) {
		v.ValidateRequired("id", *id)
	})
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Load(*id)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	reporting.NewDefaultConsoleReporter().RenderSummary(os.Stdout, st)
	printOutcome(st)
	return nil
}

func listCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)

	a, err := parse(ctx, fs, args, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No workflows stored in", a.store.Dir())
		return nil
	}
	reporting.NewDefaultConsoleReporter().RenderWorkflowList(os.Stdout, list)
	return nil
}

func leaderboardCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaderboard", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	top := fs.Int("n", 10, "Number of rows")

	a, err := parse(ctx, fs, args, flags, func(v *common.FlagValidator) {
		v.ValidateInt("n", *top, 1, 1000)
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.board == nil {
		return errors.New("leaderboard is unavailable")
	}
	entries, err := a.board.Top(ctx, *top)
	if err != nil {
		return err
	}
	reporting.NewDefaultConsoleReporter().RenderLeaderboard(os.Stdout, entries)
	return nil
}

func serveCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	addr := fs.String("addr", ":8080", "Listen address")

	a, err := parse(ctx, fs, args, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(a.logger)
	if err != nil {
		return err
	}
	cfg := server.Config{
		Addr:      *addr,
		Log:       a.logger,
		Workflows: a.store,
		Resumer:   orch,
		Health:    a.health,
	}
	if a.board != nil {
		cfg.Leaderboard = a.board
	}
	srv := server.New(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
