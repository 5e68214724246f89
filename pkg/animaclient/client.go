// Package animaclient is Anima's public composition root, mirroring
// pkg/orc/interfaces.go's public contracts and
// internal/core/orchestrator_factory.go's "wire everything, hand back
// one object" factory shape. cmd/anima runs through this package and
// also imports internal/config, internal/driver and internal/kernel for
// config loading, loop options and sentinel errors.
package animaclient

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/anima/anima/internal/adapters/agent"
	"github.com/anima/anima/internal/adapters/fs"
	"github.com/anima/anima/internal/adapters/quality"
	"github.com/anima/anima/internal/adapters/vcs"
	"github.com/anima/anima/internal/config"
	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/driver"
	"github.com/anima/anima/internal/health"
	"github.com/anima/anima/internal/history"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/lock"
	"github.com/anima/anima/internal/ports"
	"github.com/anima/anima/internal/quota"
	"github.com/anima/anima/internal/riskgate"
	"github.com/anima/anima/internal/stages"
	"github.com/anima/anima/internal/state"
)

// Layout names the well-known subpaths inside a project root, matching
// the fixed-layout convention config.defaultConfig uses for its
// "internal/dispatch" protected-path default.
type Layout struct {
	DotDir     string // ".anima" — lock, gate markers, health stats
	StateFile  string
	HistoryDir string
	RoadmapDir string
	VisionPath string
	InboxDir   string
	PromptPath string
	PromptsDir string
}

// DefaultLayout returns Anima's standard on-disk layout rooted at root.
func DefaultLayout(root string) Layout {
	dot := filepath.Join(root, ".anima")
	return Layout{
		DotDir:     dot,
		StateFile:  filepath.Join(dot, "state.json"),
		HistoryDir: filepath.Join(dot, "iterations"),
		// The paths below go through the root-sandboxed FileSystemPort,
		// which rejects absolute paths, so they stay relative to root.
		RoadmapDir: "roadmap",
		VisionPath: "VISION.md",
		InboxDir:   "inbox",
		PromptPath: filepath.Join(".anima", "last_prompt.md"),
		PromptsDir: filepath.Join(".anima", "prompts"),
	}
}

// Client wires the iteration kernel's ports, stores, and stages into a
// driver.Driver and exposes the handful of operations cmd/anima needs:
// running iterations, inspecting state/history, and clearing the risk
// gate.
type Client struct {
	Config config.Config
	Layout Layout
	Logger *slog.Logger

	Driver  *driver.Driver
	State   *state.Store
	History *history.Store
	Gate    *riskgate.Gate
	Monitor *health.Monitor
}

// New builds a Client from cfg, wiring the real filesystem, git,
// subprocess-agent, and shell-command quality adapters — the
// composition root a running anima process needs. Tests that want fakes
// should construct a driver.Driver directly instead (see
// internal/driver's test harness).
func New(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root := cfg.Paths.ProjectRoot
	if root == "" {
		return nil, fmt.Errorf("animaclient: config.Paths.ProjectRoot is required")
	}
	layout := DefaultLayout(root)

	fsPort := fs.New(root)
	vcsPort := vcs.New(root, logger)

	limiter := rate.NewLimiter(rate.Limit(float64(cfg.Limits.AgentRequestsPerMinute)/60.0), 1)
	agentPort, err := newAgentPort(cfg, root, limiter, logger)
	if err != nil {
		return nil, err
	}

	linter := quality.NewLinter(root, cfg.Agent.LintCommand, cfg.Agent.TypecheckCommand,
		cfg.Limits.QualityTimeout, cfg.Limits.TypecheckTimeout)
	testRunner := quality.NewTestRunner(root, cfg.Agent.TestCommand, cfg.Limits.TestTimeout)

	monitor := health.New(filepath.Join(layout.DotDir, "health.json"), health.WithLogger(logger))
	gate := riskgate.New(layout.DotDir)
	quotaPolicy := quota.NewPolicy(cfg.Limits.QuotaSleepRateLimited, cfg.Limits.QuotaSleepExhausted, cfg.Limits.QuotaSleepMax)

	scanFn := stages.NewScan(stages.ScanConfig{
		FS:             fsPort,
		Linter:         linter,
		TestRunner:     testRunner,
		ModulesDir:     "internal",
		InboxDir:       layout.InboxDir,
		DomainDir:      "internal/kernel",
		AdaptersDir:    "internal/adapters",
		KernelDir:      "internal/kernel",
		StateDir:       ".anima",
		HistoryDir:     layout.HistoryDir,
		ProtectedPaths: cfg.Paths.Protected,
	})
	analyzeFn := stages.NewAnalyze(stages.AnalyzeConfig{
		FS:            fsPort,
		RoadmapDir:    layout.RoadmapDir,
		Monitor:       monitor,
		HistoryWindow: cfg.Limits.HistoryWindowForStuck,
		Logger:        logger,
	})
	planFn := stages.NewPlan(stages.PlanConfig{
		FS:                fsPort,
		VisionPath:        layout.VisionPath,
		RoadmapDir:        layout.RoadmapDir,
		ProtectedPaths:    cfg.Paths.Protected,
		StuckThreshold:    cfg.Limits.HistoryWindowForStuck,
		PromptFragmentDir: layout.PromptsDir,
	})
	executeFn := stages.NewExecute(stages.ExecuteConfig{
		Agent:           agentPort,
		FS:              fsPort,
		ProtectedPaths:  cfg.Paths.Protected,
		PromptDebugPath: layout.PromptPath,
	})
	verifyFn := stages.NewVerify(stages.VerifyConfig{})

	historyStore := history.New(layout.HistoryDir)
	recordFn := stages.NewRecord(stages.RecordConfig{History: historyStore})

	baseline := dispatch.Stages{
		Scan: scanFn, Analyze: analyzeFn, Plan: planFn,
		Execute: executeFn, Verify: verifyFn, Record: recordFn,
	}
	table := dispatch.New(baseline, monitor, gate, quotaPolicy)
	stateStore := state.New(layout.StateFile)

	d := &driver.Driver{
		Table:   table,
		FS:      fsPort,
		VCS:     vcsPort,
		State:   stateStore,
		History: historyStore,
		Config: driver.Config{
			MaxConsecutiveFailures: cfg.Limits.MaxConsecutiveFailures,
			IterationCooldown:      cfg.Limits.IterationCooldown,
			RoadmapDir:             layout.RoadmapDir,
			VisionPath:             layout.VisionPath,
		},
		Logger: logger,
	}

	return &Client{
		Config:  cfg,
		Layout:  layout,
		Logger:  logger,
		Driver:  d,
		State:   stateStore,
		History: historyStore,
		Gate:    gate,
		Monitor: monitor,
	}, nil
}

func newAgentPort(cfg config.Config, root string, limiter *rate.Limiter, logger *slog.Logger) (ports.AgentPort, error) {
	binary, args, err := cfg.Agent.BinaryAndArgs()
	if err != nil {
		return nil, fmt.Errorf("animaclient: resolving agent backend: %w", err)
	}
	return agent.New(binary, args, root, cfg.Limits.AgentTimeout, limiter, logger), nil
}

// RunOnce runs exactly one iteration, holding the process-exclusive
// lock for its duration.
func (c *Client) RunOnce(ctx context.Context) (driver.Outcome, error) {
	l, err := lock.Acquire(c.LockPath())
	if err != nil {
		return driver.Outcome{}, fmt.Errorf("acquiring driver lock: %w", err)
	}
	defer l.Release()
	return c.Driver.RunOnce(ctx)
}

// RunLoop runs iterations continuously per opts, holding the
// process-exclusive lock for the duration.
func (c *Client) RunLoop(ctx context.Context, opts driver.LoopOptions) (driver.LoopResult, error) {
	if opts.LockPath == "" {
		opts.LockPath = filepath.Join(c.Layout.DotDir, "anima.lock")
	}
	return c.Driver.RunLoop(ctx, opts)
}

// Status returns the persisted AnimaState for inspection.
func (c *Client) Status(ctx context.Context) (kernel.AnimaState, error) {
	return c.State.Load(ctx)
}

// Reset clears the consecutive-failure count and resumes from sleep,
// the effect of the operator-facing "reset" command.
func (c *Client) Reset(ctx context.Context) (kernel.AnimaState, error) {
	st, err := c.State.Load(ctx)
	if err != nil {
		return kernel.AnimaState{}, err
	}
	st.ConsecutiveFailures = 0
	st.Status = kernel.StatusSleep
	if err := c.State.Save(ctx, st); err != nil {
		return kernel.AnimaState{}, err
	}
	return st, nil
}

// Log returns the n most recent iteration records, newest first. n<=0
// returns every record on disk.
func (c *Client) Log(ctx context.Context, n int) ([]kernel.IterationRecord, error) {
	if n <= 0 {
		n = -1
	}
	return c.History.LoadRecent(ctx, n)
}

// Approve clears a pending risk gate, allowing the next iteration to
// proceed with the previously-classified high-risk plan.
func (c *Client) Approve() error {
	return c.Gate.ClearGate()
}

// GatePending reports whether an iteration is currently blocked on
// human approval.
func (c *Client) GatePending() bool {
	return c.Gate.IsGatePending()
}

// Health returns the health monitor's persisted per-step call and
// fallback tallies.
func (c *Client) Health() kernel.HealthStats {
	return c.Monitor.ReadStats()
}

// LockPath returns the process-exclusivity lock file path for this
// client's layout.
func (c *Client) LockPath() string {
	return filepath.Join(c.Layout.DotDir, "anima.lock")
}
