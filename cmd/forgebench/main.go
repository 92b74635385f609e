// Command forgebench drives a suite of micro-tasks through a foundation
// model, one turn at a time, and reports pass/fail/timeout/error outcomes.
//
// Usage:
//
//	forgebench --suite tasks.yaml --output ./runs/001
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/forgebench/forgebench/internal/archive"
	"github.com/forgebench/forgebench/internal/baseline"
	"github.com/forgebench/forgebench/internal/benchmark"
	"github.com/forgebench/forgebench/internal/brain"
	"github.com/forgebench/forgebench/internal/budget"
	"github.com/forgebench/forgebench/internal/evolution"
	"github.com/forgebench/forgebench/internal/instruments"
	"github.com/forgebench/forgebench/internal/microtask"
	"github.com/forgebench/forgebench/internal/observability"
	"github.com/forgebench/forgebench/internal/security"
	"github.com/forgebench/forgebench/internal/storage"
	"github.com/forgebench/forgebench/internal/streaming"
	"github.com/forgebench/forgebench/internal/versioning"
)

const version = "0.1.0"

// exit codes, per the CLI's error handling contract: 0 all passed, 1 any
// non-pass outcome, 2 fatal setup error.
const (
	exitAllPassed = 0
	exitNonPass   = 1
	exitFatal     = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("forgebench", flag.ContinueOnError)
	suitePath := fs.String("suite", "", "path to the suite file (required)")
	outputDir := fs.String("output", "", "directory to write run artifacts to (required)")
	tasksCSV := fs.String("tasks", "", "comma-separated task-id allow-list")
	baselinePath := fs.String("baseline", "", "path to baselines.jsonl for regression comparison")
	model := fs.String("model", "claude-code", "model id: claude-code, fm, foundation-models, openai, openai:<model>, or ollama:<model>")
	timeoutSec := fs.Int("timeout", 3600, "per-task timeout in seconds")
	maxTurns := fs.Int("max-turns", 300, "per-task maximum FM turns")
	parallel := fs.Int("parallel", 1, "max tasks to run concurrently via subagent delegation (1 = sequential)")
	runID := fs.String("run-id", "", "run identifier (default: generated from the current time)")
	hudURL := fs.String("hud-url", "", "websocket URL of a live HUD observer")
	archiveBucket := fs.String("archive-bucket", "", "optional S3 bucket to archive results.json/baselines.jsonl to")
	archiveRegion := fs.String("archive-region", "", "AWS region for --archive-bucket (default: environment/config chain)")
	forbidToolsCSV := fs.String("forbid-tools", "", "comma-separated tool names the FM worker may never invoke")
	maxConcurrentTools := fs.Int("max-concurrent-tools", 1, "max in-flight tool invocations per task")
	profileStorePath := fs.String("profile-store", "", "path to a SQLite store for evolutionary orchestrator-profile tuning (enables --profile-id/--evolve-next)")
	profileID := fs.String("profile-id", "", "evaluate an existing profile from --profile-store instead of seeding generation 0")
	evolveNext := fs.Int("evolve-next", 0, "with --profile-store, mutate this run's profile into N generation-n+1 children and save them")
	dailyBudget := fs.Float64("daily-budget", 0, "daily USD spend ceiling (0 = unlimited); approaching it downgrades the FM worker's model tier")
	monthlyBudget := fs.Float64("monthly-budget", 0, "monthly USD spend ceiling (0 = unlimited)")
	taskComplexity := fs.String("task-complexity", "moderate", "complexity rating fed to the model router when a budget ceiling is set: simple, moderate, or complex")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitAllPassed
		}
		return exitFatal
	}
	if *showVersion {
		printVersion()
		return exitAllPassed
	}

	if *suitePath == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "forgebench: --suite and --output are required")
		fs.Usage()
		return exitFatal
	}

	if *runID == "" {
		*runID = fmt.Sprintf("run-%d", time.Now().Unix())
	}

	suite, err := benchmark.LoadSuite(*suitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgebench: load suite: %v\n", err)
		return exitFatal
	}

	var allowList []string
	if *tasksCSV != "" {
		for _, id := range strings.Split(*tasksCSV, ",") {
			if id = strings.TrimSpace(id); id != "" {
				allowList = append(allowList, id)
			}
		}
	}
	tasks := benchmark.SelectTasks(suite, allowList)

	var forbidTools []string
	for _, t := range strings.Split(*forbidToolsCSV, ",") {
		if t = strings.TrimSpace(t); t != "" {
			forbidTools = append(forbidTools, t)
		}
	}

	provider, resolvedModel, key, err := resolveProvider(*model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgebench: %v\n", err)
		return exitFatal
	}

	logger := observability.NewLogger(*runID, os.Stderr)
	metrics := observability.NewMetricsCollector(10000)
	tracker := budget.New(*dailyBudget, *monthlyBudget)
	var router *brain.ModelRouter
	if *dailyBudget > 0 || *monthlyBudget > 0 {
		router = brain.NewModelRouter()
		router.SetProvider(provider.Name())
	}
	auditLogger := security.NewAuditLogger(security.NewMemoryAuditStore())
	sanitizer := security.NewSanitizer(security.SanitizerConfig{})
	policyEnforcer := security.NewPolicyEnforcer()

	secrets := security.NewSecretRegistry()
	secrets.Register(key)

	var sandbox *instruments.DockerSandbox
	if d := instruments.NewDockerSandbox(instruments.DefaultSandboxConfig()); d.IsAvailable() {
		sandbox = d
	}

	var profileRun *profileRunContext
	if *profileStorePath != "" {
		var perr error
		profileRun, perr = setupProfileRun(*profileStorePath, *profileID, *maxTurns, resolvedModel)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "forgebench: profile store: %v\n", perr)
			return exitFatal
		}
		defer profileRun.store.Close()
		*maxTurns = profileRun.profile.MaxTurns
		logger.Info("running under evolutionary profile",
			"profileId", profileRun.profile.ID, "generation", profileRun.profile.Generation, "maxTurns", profileRun.profile.MaxTurns)
	}

	if *hudURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sender, err := streaming.DialHUD(ctx, *hudURL)
		cancel()
		if err != nil {
			logger.Warn("failed to connect to HUD", "url", *hudURL, "error", err.Error())
		} else {
			streaming.RegisterHUD(sender)
			defer sender.Close()
		}
	}

	var skillsHint string
	if profileRun != nil && len(profileRun.profile.PromptModifiers) > 0 {
		skillsHint = "Tuning hints: " + strings.Join(profileRun.profile.PromptModifiers, "; ")
	}

	runner := benchmark.NewRunner(benchmark.RunConfig{
		OutputDir:   *outputDir,
		CLITimeout:  time.Duration(*timeoutSec) * time.Second,
		CLIMaxTurns: *maxTurns,
		Skills:      skillsHint,
		Parallelism: *parallel,
		RunID:       *runID,
		Model:       resolvedModel,
		Logger:      logger,
		Metrics:     metrics,
		Budget:      tracker,
		NewOrchestrator: func(workspace string) *microtask.Orchestrator {
			worker := microtask.NewFMWorker(provider, resolvedModel).
				WithSanitizer(sanitizer).
				WithBudget(tracker, *runID)
			if router != nil {
				worker = worker.WithRouter(router, *taskComplexity)
			}
			executor := microtask.NewExecutor(workspace).
				WithAudit(auditLogger).
				WithPolicy(policyEnforcer, forbidTools, *maxConcurrentTools).
				WithSecrets(secrets)
			if sandbox != nil {
				executor = executor.WithSandbox(sandbox)
			}
			return microtask.NewOrchestrator(worker, executor).WithObservability(logger, metrics)
		},
	})

	results, err := runner.Run(context.Background(), suite.Name, tasks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgebench: run: %v\n", err)
		return exitFatal
	}

	if *baselinePath != "" {
		reportBaseline(logger, *baselinePath, resolvedModel, suite.Name, *runID, results)
	}

	if profileRun != nil {
		reportProfileRun(logger, profileRun, results, *evolveNext)
	}

	if *archiveBucket != "" {
		archiver, err := archive.NewArchiver(context.Background(), *archiveBucket, "forgebench-runs", *archiveRegion)
		if err == nil {
			archiver, err = archiver.WithEncryption(os.Getenv("ARCHIVE_ENCRYPTION_KEY"))
		}
		if err != nil {
			logger.Warn("archive disabled", "error", err.Error())
		} else {
			for _, uploadErr := range archiver.UploadRunArtifacts(context.Background(), *runID, *outputDir) {
				logger.Warn("archive upload failed", "error", uploadErr.Error())
			}
		}
	}

	fmt.Printf("forgebench: %d/%d passed (pass rate %.2f)\n",
		results.Summary.Passed, len(results.Tasks), results.Summary.PassRate)

	if results.Summary.Passed == len(results.Tasks) && len(results.Tasks) > 0 {
		return exitAllPassed
	}
	return exitNonPass
}

func reportBaseline(logger *observability.Logger, path, model, suiteName, runID string, results benchmark.Results) {
	store := baseline.NewStore(path)
	current := baseline.CurrentResult{
		PassRate:   results.Summary.PassRate,
		TaskStatus: make(map[string]baseline.TaskStatus, len(results.Tasks)),
	}
	for _, m := range results.Tasks {
		current.TaskStatus[m.TaskID] = toBaselineStatus(m.Outcome)
	}

	comparison, existed, err := baseline.CompareOrCreateBaseline(store, model, suiteName, runID, current, true)
	if err != nil {
		logger.Warn("baseline comparison failed", "error", err.Error())
		return
	}
	if !existed {
		logger.Info("no prior baseline found; this run was saved as the new baseline")
		return
	}

	fmt.Printf("forgebench: baseline verdict=%s passRateDelta=%.3f improved=%d regressed=%d\n",
		comparison.Verdict, comparison.PassRateDelta, len(comparison.ImprovedTasks), len(comparison.RegressedTasks))
	if comparison.Alert != nil {
		fmt.Printf("forgebench: REGRESSION ALERT severity=%s tasks=%v\n", comparison.Alert.Severity, comparison.Alert.AffectedTasks)
	}

	reportSignificance(comparison, runID)
}

// reportSignificance runs a two-sample significance test over the
// baseline-vs-current comparison's per-task deltas, treating each task's
// pass/fail as a 1.0/0.0 sample. A single suite run only ever gives it one
// comparison's worth of tasks to work with, so it is a blunt instrument.
func reportSignificance(comparison baseline.Comparison, runID string) {
	var withBaseline []baseline.TaskDelta
	for _, d := range comparison.Deltas {
		if d.Baseline != "" && d.Baseline != "N/A" {
			withBaseline = append(withBaseline, d)
		}
	}
	if len(withBaseline) < 4 {
		return // too few overlapping tasks for the significance test to mean anything
	}

	mgr := evolution.NewExperimentManager()
	mgr.SetMinSamples(len(withBaseline))
	exp := mgr.StartExperiment(
		fmt.Sprintf("run %s does not regress pass rate relative to its baseline", runID),
		"baseline", "current", "pass_rate")
	for _, d := range withBaseline {
		mgr.RecordSample(exp.ID, "A", passScore(d.Baseline))
		mgr.RecordSample(exp.ID, "B", passScore(d.Current))
	}
	if concluded, err := mgr.Evaluate(exp.ID); err == nil && concluded {
		result := mgr.Get(exp.ID)
		fmt.Printf("forgebench: significance winner=%s p=%.3f (%s)\n", result.Winner, result.Significance, result.Conclusion)
	}
}

func passScore(s baseline.TaskStatus) float64 {
	if s == baseline.StatusPass {
		return 1.0
	}
	return 0.0
}

// profileRunContext bundles the evolutionary-tuning state for one run: the
// backing SQLite store, the profile/result persistence layer over it, the
// tuner, and the active profile this run was driven under.
type profileRunContext struct {
	store     *storage.SQLiteStore
	profStore *evolution.ProfileStore
	tuner     *evolution.Tuner
	profile   evolution.Profile
}

// setupProfileRun opens (creating if absent) the SQLite-backed profile
// store at path and resolves the profile this run should be driven under:
// an existing one named by profileID, or a freshly seeded generation-0
// profile built from the CLI's --max-turns/--model flags.
func setupProfileRun(path, profileID string, maxTurns int, model string) (*profileRunContext, error) {
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	profStore := evolution.NewProfileStore(store)
	vc := versioning.New()
	vc.SetDefaultWindow(3)
	vc.SetDefaultThreshold(0.9)
	tuner := evolution.NewTuner(time.Now().UnixNano(), vc)

	ctx := context.Background()
	var profile evolution.Profile
	if profileID != "" {
		p, err := profStore.LoadProfile(ctx, profileID)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load profile %q: %w", profileID, err)
		}
		if p == nil {
			store.Close()
			return nil, fmt.Errorf("profile %q not found", profileID)
		}
		profile = *p
	} else {
		profile = tuner.Seed(maxTurns, 0, model, nil)
		if err := profStore.SaveProfile(ctx, profile); err != nil {
			store.Close()
			return nil, fmt.Errorf("save seeded profile: %w", err)
		}
	}

	return &profileRunContext{store: store, profStore: profStore, tuner: tuner, profile: profile}, nil
}

// reportProfileRun scores the completed run against the active profile,
// persists the result, checks for a versioning-observed quality regression
// against the profile's parent, and — if requested — mutates the scored
// profile into the next generation's children.
func reportProfileRun(logger *observability.Logger, pr *profileRunContext, results benchmark.Results, evolveNext int) {
	ctx := context.Background()

	result := pr.tuner.Evaluate(pr.profile, results.Summary, results.Tasks)
	if err := pr.profStore.SaveResult(ctx, result); err != nil {
		logger.Warn("profile result save failed", "error", err.Error())
	}
	fmt.Printf("forgebench: profile=%s generation=%d fitness=%.3f avgTurns=%.1f avgTokens=%.0f\n",
		pr.profile.ID, pr.profile.Generation, result.Fitness, result.AvgTurns, result.AvgTokens)

	if pr.profile.ParentID != "" {
		if parent, err := pr.profStore.LoadProfile(ctx, pr.profile.ParentID); err == nil && parent != nil {
			pr.tuner.RegisterForObservation(pr.profile, result.Fitness, result.AvgTokens)
			if rollbacks := pr.tuner.ObserveRun(pr.profile.ID, result.Fitness, result.AvgTokens); len(rollbacks) > 0 {
				logger.Warn("profile quality degraded; rollback recommended",
					"profileId", pr.profile.ID, "changes", fmt.Sprintf("%v", rollbacks))
			}
		}
	}

	if evolveNext > 0 {
		for _, child := range pr.tuner.NextGeneration([]evolution.ProfileResult{result}, evolveNext) {
			if err := pr.profStore.SaveProfile(ctx, child); err != nil {
				logger.Warn("save child profile failed", "error", err.Error())
				continue
			}
			fmt.Printf("forgebench: seeded next-generation profile %s (parent %s)\n", child.ID, child.ParentID)
		}
	}
}

func toBaselineStatus(o benchmark.Outcome) baseline.TaskStatus {
	switch o {
	case benchmark.OutcomeSuccess:
		return baseline.StatusPass
	case benchmark.OutcomeTimeout:
		return baseline.StatusTimeout
	case benchmark.OutcomeError:
		return baseline.StatusError
	default:
		return baseline.StatusFail
	}
}

// resolveProvider maps the --model flag's supported values onto a concrete
// brain.LLMProvider, reading API keys from the environment (loaded above
// via godotenv from a .env file, if present). The resolved credential is
// also returned so the caller can register it with a security.SecretRegistry
// and keep it from leaking into tool output or logs.
func resolveProvider(model string) (provider brain.LLMProvider, resolvedModel, key string, err error) {
	switch {
	case model == "claude-code", model == "fm", model == "foundation-models":
		key = os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			key = promptForAPIKey()
		}
		if key == "" {
			return nil, "", "", fmt.Errorf("model %q requires ANTHROPIC_API_KEY", model)
		}
		return brain.NewClaudeProvider(key), defaultClaudeModel(), key, nil

	case model == "openai", strings.HasPrefix(model, "openai:"):
		key = os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, "", "", fmt.Errorf("model %q requires OPENAI_API_KEY", model)
		}
		name := strings.TrimPrefix(model, "openai:")
		if name == "openai" || name == "" {
			name = "gpt-4o"
		}
		return brain.NewOpenAIProvider(key), name, key, nil

	case strings.HasPrefix(model, "ollama:"):
		name := strings.TrimPrefix(model, "ollama:")
		return brain.NewUniversalProvider(brain.OllamaConfig(name)), name, "", nil

	default:
		return nil, "", "", fmt.Errorf("unsupported --model %q", model)
	}
}

// promptForAPIKey interactively reads ANTHROPIC_API_KEY from the
// terminal with input echo disabled, if stdin is a real terminal.
// Returns "" (not an error) when stdin isn't interactive, so a
// non-interactive invocation falls straight through to the
// missing-key error.
func promptForAPIKey() string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ""
	}
	fmt.Fprint(os.Stderr, "ANTHROPIC_API_KEY not set; enter it now: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(key))
}

func defaultClaudeModel() string {
	if m := os.Getenv("LLM_MODEL"); m != "" {
		return m
	}
	return "claude-sonnet-4-5"
}

func printVersion() {
	fmt.Printf("forgebench v%s\n", version)
}
