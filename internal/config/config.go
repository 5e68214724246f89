// Package config loads Anima's on-disk configuration: a yaml.v3 +
// validator/v10 + godotenv combination and XDG-aware path resolution,
// following internal/config/config.go's approach in dotcommander-orc.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is Anima's top-level configuration document.
type Config struct {
	Agent  AgentConfig  `yaml:"agent" validate:"required"`
	Paths  PathsConfig  `yaml:"paths" validate:"required"`
	Limits Limits       `yaml:"limits" validate:"required"`
}

// AgentConfig selects and bounds the external AI agent backend, and
// names the shell commands the quality adapters shell out to.
type AgentConfig struct {
	// Backend selects the agent adapter: claude | codex | gemini | ...
	Backend string `yaml:"backend" validate:"required"`
	// Binary overrides the subprocess binary resolved from Backend.
	Binary string `yaml:"binary"`
	// Args are extra arguments passed to the agent binary on every call.
	Args []string `yaml:"args"`
	// AutoPush is read from the config file, or from AUTO_PUSH when no
	// config file exists. Nothing consults it: the VCS adapter attempts a
	// push after every successful commit regardless of its value.
	AutoPush bool `yaml:"auto_push"`

	LintCommand      string `yaml:"lint_command"`
	TypecheckCommand string `yaml:"typecheck_command"`
	TestCommand      string `yaml:"test_command"`
}

// knownBackends maps a Backend name to its default CLI binary.
var knownBackends = map[string]string{
	"claude": "claude",
	"codex":  "codex",
	"gemini": "gemini",
}

// BinaryAndArgs resolves the configured backend to a binary name and its
// argument list, for internal/adapters/agent.New. Binary, when set,
// always wins over the Backend-derived default.
func (a AgentConfig) BinaryAndArgs() (string, []string, error) {
	if a.Binary != "" {
		return a.Binary, a.Args, nil
	}
	binary, ok := knownBackends[a.Backend]
	if !ok {
		return "", nil, fmt.Errorf("unknown agent backend %q", a.Backend)
	}
	return binary, a.Args, nil
}

// PathsConfig locates the project root and its well-known subpaths.
type PathsConfig struct {
	ProjectRoot string   `yaml:"project_root" validate:"required"`
	Protected   []string `yaml:"protected" validate:"required,min=1"`
}

// Limits holds the overridable numeric/duration knobs governing
// iteration timeouts, cooldowns, and quota backoff.
type Limits struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" validate:"required,min=1,max=100"`
	IterationCooldown      time.Duration `yaml:"iteration_cooldown" validate:"min=0,max=1h"`
	AgentTimeout           time.Duration `yaml:"agent_timeout" validate:"required,min=1s,max=6h"`
	QualityTimeout         time.Duration `yaml:"quality_timeout" validate:"min=1s,max=1h"`
	TypecheckTimeout       time.Duration `yaml:"typecheck_timeout" validate:"min=1s,max=1h"`
	TestTimeout            time.Duration `yaml:"test_timeout" validate:"min=1s,max=1h"`
	QuotaSleepRateLimited  time.Duration `yaml:"quota_sleep_rate_limited" validate:"min=1s"`
	QuotaSleepExhausted    time.Duration `yaml:"quota_sleep_exhausted" validate:"min=1s"`
	QuotaSleepMax          time.Duration `yaml:"quota_sleep_max" validate:"min=1s"`
	HistoryWindowForStuck  int           `yaml:"history_window_for_stuck" validate:"required,min=1,max=50"`
	AgentRequestsPerMinute int           `yaml:"agent_requests_per_minute" validate:"required,min=1,max=10000"`
}

// DefaultLimits mirrors dotcommander-orc's config.DefaultLimits:
// sensible defaults a fresh project gets without authoring a config
// file by hand.
func DefaultLimits() Limits {
	return Limits{
		MaxConsecutiveFailures: 3,
		IterationCooldown:      10 * time.Second,
		AgentTimeout:           600 * time.Second,
		QualityTimeout:         60 * time.Second,
		TypecheckTimeout:       120 * time.Second,
		TestTimeout:            120 * time.Second,
		QuotaSleepRateLimited:  60 * time.Second,
		QuotaSleepExhausted:    3600 * time.Second,
		QuotaSleepMax:          7200 * time.Second,
		HistoryWindowForStuck:  3,
		AgentRequestsPerMinute: 20,
	}
}

// DefaultProtectedPaths lists the paths a running iteration may never
// modify, relative to the project root.
func DefaultProtectedPaths(kernelDir, dispatchSource string) []string {
	return []string{"VISION.md", kernelDir + "/", dispatchSource}
}

// Load reads config from path (falling back to the default on-disk
// location), applies a .env overlay, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := defaultConfig()
		return &cfg, cfg.validate()
	} else if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if backend := os.Getenv("ANIMA_AGENT"); backend != "" {
		cfg.Agent.Backend = backend
	}
	if cfg.Agent.Backend == "" {
		cfg.Agent.Backend = "claude"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func defaultConfig() Config {
	root, _ := os.Getwd()
	return Config{
		Agent: AgentConfig{
			Backend:          envOr("ANIMA_AGENT", "claude"),
			AutoPush:         envBoolOr("AUTO_PUSH", true),
			LintCommand:      envOr("ANIMA_LINT_COMMAND", "go vet ./..."),
			TypecheckCommand: envOr("ANIMA_TYPECHECK_COMMAND", "go build ./..."),
			TestCommand:      envOr("ANIMA_TEST_COMMAND", "go test ./..."),
		},
		Paths: PathsConfig{
			ProjectRoot: root,
			Protected:   DefaultProtectedPaths("internal/dispatch", "internal/dispatch/table.go"),
		},
		Limits: DefaultLimits(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "TRUE" || v == "yes"
}

func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "anima", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "anima", "config.yaml")
}

func (c *Config) validate() error {
	if c.Limits.MaxConsecutiveFailures == 0 {
		c.Limits = DefaultLimits()
	}
	if len(c.Paths.Protected) == 0 {
		c.Paths.Protected = DefaultProtectedPaths("internal/dispatch", "internal/dispatch/table.go")
	}
	if c.Agent.Backend == "" {
		c.Agent.Backend = "claude"
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
