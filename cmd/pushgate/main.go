package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/systemstart/pushgate/pkg/api"
	"github.com/systemstart/pushgate/pkg/cache"
	"github.com/systemstart/pushgate/pkg/history"
	"github.com/systemstart/pushgate/pkg/logging"
	"github.com/systemstart/pushgate/pkg/processing"
	"github.com/systemstart/pushgate/pkg/trigger"
	"github.com/systemstart/pushgate/pkg/workspace"
)

var version = "dev"

const (
	_ = iota
	exitRunFailed
	exitDotenvError
	exitLoadPipelineFailed
	exitSourceDirectoryCheckFailed
	exitSourceDirectoryNotADirectory
	exitStateDirectoryCreateFailed
	exitOpenHistoryFailed
	exitRunCancelled
	exitServeFailed
)

var (
	pipelineFile   string
	sourceDir      string
	workRoot       string
	stateDir       string
	listenAddr     string
	maxRuns        int
	ref            string
	commit         string
	disableCaching bool
	loggingType    string
	logLevel       string
	showVersion    bool
)

func init() {
	flag.StringVar(
		&pipelineFile,
		"pipeline",
		api.DefaultPipelineFile,
		"pipeline definition, relative to -source")
	flag.StringVar(
		&sourceDir,
		"source",
		".",
		"project source tree copied into every run workspace")
	flag.StringVar(
		&workRoot,
		"work-root",
		"",
		"parent directory of run workspaces (default: system temp dir)")
	flag.StringVar(
		&stateDir,
		"state-dir",
		".pushgate",
		"directory for cache entries, step logs and the run ledger")
	flag.StringVar(
		&listenAddr,
		"listen",
		"",
		"serve push webhooks on this address instead of running once")
	flag.IntVar(
		&maxRuns,
		"max-runs",
		trigger.DefaultMaxRuns,
		"maximum concurrent runs in -listen mode")
	flag.StringVar(
		&ref,
		"ref",
		"",
		"pushed ref reported on a single run")
	flag.StringVar(
		&commit,
		"commit",
		"",
		"pushed commit reported on a single run")
	flag.BoolVar(
		&disableCaching,
		"no-cache",
		false,
		"neither restore nor save the dependency cache")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	_ = logging.Initialize(loggingType, logLevel)

	includeEnv()
	checkSourceDirectory()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, ledger := newEngine()

	if listenAddr != "" {
		serve(ctx, engine, ledger)
	} else {
		runOnce(ctx, engine)
	}

	slog.Info("done")
}

func runOnce(ctx context.Context, engine *processing.Engine) {
	pipeline := loadPipeline()
	run := api.NewRun(pipeline.Name, api.NewPushEvent(ref, commit))
	engine.Output = os.Stderr

	rec := engine.Execute(ctx, run, pipeline)
	for _, step := range rec.Steps {
		slog.Info("step result", "step", step.Name, "exitCode", step.ExitCode, "log", step.LogPath)
	}

	switch rec.Status {
	case api.StatusSucceeded:
	case api.StatusCancelled:
		slog.Warn("run cancelled", "run", rec.ID, "reason", rec.Reason)
		os.Exit(exitRunCancelled)
	default:
		slog.Error("run failed", "run", rec.ID, "reason", rec.Reason)
		os.Exit(exitRunFailed)
	}
}

func serve(ctx context.Context, engine *processing.Engine, ledger *history.Ledger) {
	// The pipeline is validated up front and reloaded for every push.
	loadPipeline()
	load := func() (*api.Pipeline, error) {
		return processing.ResolvePipeline(sourceDir, pipelineFile)
	}

	listener := trigger.NewListener(ctx, engine, load, maxRuns)
	err := trigger.NewServer(listener, ledger).ListenAndServe(ctx, listenAddr)

	listener.Close()
	_ = listener.Wait()

	if err != nil {
		slog.Error("server failed", "addr", listenAddr, "error", err)
		os.Exit(exitServeFailed)
	}
}

func newEngine() (*processing.Engine, *history.Ledger) {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		slog.Error("failed to create state directory", "directory", stateDir, "error", err)
		os.Exit(exitStateDirectoryCreateFailed)
	}

	ledger, err := history.OpenLedger(filepath.Join(stateDir, "runs.jsonl"))
	if err != nil {
		slog.Error("failed to open run history", "directory", stateDir, "error", err)
		os.Exit(exitOpenHistoryFailed)
	}

	engine := &processing.Engine{
		WorkRoot: workRoot,
		Source:   sourceDir,
		Exclude:  workspaceExcludes(),
		Logs:     history.NewLogStore(filepath.Join(stateDir, "logs")),
		History:  ledger,
	}
	if !disableCaching {
		engine.Cache = cache.NewManager(cache.NewFileStore(filepath.Join(stateDir, "cache")))
	}
	return engine, ledger
}

// workspaceExcludes keeps the state directory out of run workspaces when it
// lives inside the source tree.
func workspaceExcludes() []string {
	exclude := slices.Clone(workspace.DefaultExclude)
	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return exclude
	}
	absState, err := filepath.Abs(stateDir)
	if err != nil {
		return exclude
	}
	rel, err := filepath.Rel(absSource, absState)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return exclude
	}
	rel = filepath.ToSlash(rel)
	return append(exclude, rel, rel+"/**")
}

func loadPipeline() *api.Pipeline {
	pipeline, err := processing.ResolvePipeline(sourceDir, pipelineFile)
	if err != nil {
		slog.Error("failed to load pipeline", "source", sourceDir, "pipeline", pipelineFile, "error", err)
		os.Exit(exitLoadPipelineFailed)
	}
	return pipeline
}

func includeEnv() {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Info("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}

func checkSourceDirectory() {
	st, err := os.Stat(sourceDir)
	if err != nil {
		slog.Error("failed to check source directory", "directory", sourceDir, "error", err)
		os.Exit(exitSourceDirectoryCheckFailed)
	}

	if !st.IsDir() {
		slog.Error("-source is not a directory", "directory", sourceDir)
		os.Exit(exitSourceDirectoryNotADirectory)
	}
}
