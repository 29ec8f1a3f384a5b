// Package config loads the daemon configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// DefaultPath is used when neither REVIEWBRIDGE_CONFIG nor CONFIG_FILE is set.
const DefaultPath = "config.toml"

// ErrInvalidConfig is returned when a global setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full daemon configuration. The file sections map one to one
// onto the nested structs; secrets only come from the environment.
type Config struct {
	Polling PollingConfig `toml:"polling"`
	Paths   PathsConfig   `toml:"paths"`
	Agent   AgentConfig   `toml:"agent"`
	GitHub  GitHubConfig  `toml:"github"`
	Server  ServerConfig  `toml:"server"`
	Repos   []RepoEntry   `toml:"repos"`

	Path            string `toml:"-"`
	GitHubToken     string `toml:"-"`
	SlackWebhookURL string `toml:"-"`
	LogLevel        string `toml:"-"`
}

// PollingConfig is the [polling] section.
type PollingConfig struct {
	IntervalSeconds      int `toml:"interval_seconds"`
	MaxConcurrentReviews int `toml:"max_concurrent_reviews"`
	ReviewTimeoutMinutes int `toml:"review_timeout_minutes"`
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
}

// PathsConfig is the [paths] section.
type PathsConfig struct {
	StateFile string `toml:"state_file"`
	RepoDir   string `toml:"repo_dir"`
	RunLogDB  string `toml:"run_log_db"`
}

// AgentConfig is the [agent] section describing how the review CLI is invoked.
type AgentConfig struct {
	Command   string   `toml:"command"`
	MaxTurns  int      `toml:"max_turns"`
	ExtraArgs []string `toml:"extra_args"`
}

// GitHubConfig is the [github] section. An empty APIURL means github.com.
type GitHubConfig struct {
	APIURL           string `toml:"api_url"`
	CloneURLTemplate string `toml:"clone_url_template"`
}

// ServerConfig is the [server] section for the operator API.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// RepoEntry is one [[repos]] table as written in the file.
type RepoEntry struct {
	Name     string   `toml:"name"`
	Skill    string   `toml:"skill"`
	Branches []string `toml:"branches"`
	Enabled  *bool    `toml:"enabled"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Polling: PollingConfig{
			IntervalSeconds:      300,
			MaxConcurrentReviews: 3,
			ReviewTimeoutMinutes: 60,
			ShutdownGraceSeconds: 30,
		},
		Paths: PathsConfig{
			StateFile: "./state.json",
			RepoDir:   "./repos",
			RunLogDB:  "./reviewbridge.db",
		},
		Agent: AgentConfig{
			Command:   "claude",
			MaxTurns:  50,
			ExtraArgs: []string{},
		},
		GitHub: GitHubConfig{
			CloneURLTemplate: "https://github.com/%s.git",
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:7480",
		},
	}
}

// ResolvePath returns the config file path from REVIEWBRIDGE_CONFIG, then
// CONFIG_FILE, then DefaultPath.
func ResolvePath() string {
	if v := os.Getenv("REVIEWBRIDGE_CONFIG"); v != "" {
		return v
	}
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the file at path (ResolvePath when empty), applies environment
// overrides and validates the global settings. Repository entries are not
// validated here; see RepoConfigs.
//
// Environment: GH_TOKEN or GITHUB_TOKEN, SLACK_WEBHOOK_URL,
// REVIEWBRIDGE_LISTEN_ADDR, REVIEWBRIDGE_LOG_LEVEL.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ResolvePath()
	}

	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("unknown config keys ignored", "path", path, "keys", keys)
	}
	cfg.Path = path

	cfg.GitHubToken = os.Getenv("GH_TOKEN")
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	cfg.SlackWebhookURL = os.Getenv("SLACK_WEBHOOK_URL")
	if v, ok := os.LookupEnv("REVIEWBRIDGE_LISTEN_ADDR"); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	cfg.LogLevel = os.Getenv("REVIEWBRIDGE_LOG_LEVEL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the global settings. Any error here is fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Polling.IntervalSeconds > 0, "polling.interval_seconds must be positive, got %d", c.Polling.IntervalSeconds)
	check(c.Polling.MaxConcurrentReviews >= 1, "polling.max_concurrent_reviews must be at least 1, got %d", c.Polling.MaxConcurrentReviews)
	check(c.Polling.ReviewTimeoutMinutes > 0, "polling.review_timeout_minutes must be positive, got %d", c.Polling.ReviewTimeoutMinutes)
	check(c.Polling.ShutdownGraceSeconds >= 0, "polling.shutdown_grace_seconds must not be negative, got %d", c.Polling.ShutdownGraceSeconds)
	check(c.Paths.StateFile != "", "paths.state_file is required")
	check(c.Paths.RepoDir != "", "paths.repo_dir is required")
	check(c.Agent.Command != "", "agent.command is required")
	check(c.Agent.MaxTurns >= 0, "agent.max_turns must not be negative, got %d", c.Agent.MaxTurns)
	check(strings.Count(c.GitHub.CloneURLTemplate, "%s") == 1,
		"github.clone_url_template must contain exactly one %%s, got %q", c.GitHub.CloneURLTemplate)

	return errors.Join(errs...)
}

// PollInterval returns the time between poll cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// ReviewTimeout returns the wall-clock limit of one agent run.
func (c *Config) ReviewTimeout() time.Duration {
	return time.Duration(c.Polling.ReviewTimeoutMinutes) * time.Minute
}

// ShutdownGrace returns how long in-flight reviews get after a shutdown
// signal before their processes are killed.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Polling.ShutdownGraceSeconds) * time.Second
}

// RepoConfigs converts the [[repos]] entries. Invalid entries are returned
// as errors alongside the valid ones; they never fail the whole load.
func (c *Config) RepoConfigs() ([]model.RepoConfig, []error) {
	repos := make([]model.RepoConfig, 0, len(c.Repos))
	var invalid []error
	seen := make(map[string]bool, len(c.Repos))

	for i, e := range c.Repos {
		name := strings.TrimSpace(e.Name)
		if _, _, err := model.SplitRepoName(name); err != nil {
			invalid = append(invalid, fmt.Errorf("repos[%d]: %w", i, err))
			continue
		}
		if seen[name] {
			invalid = append(invalid, fmt.Errorf("repos[%d]: duplicate repository %q", i, name))
			continue
		}

		skill := e.Skill
		if skill == "" {
			skill = model.DefaultSkill
		}
		if err := model.ValidateSkillName(skill); err != nil {
			invalid = append(invalid, fmt.Errorf("repos[%d] %s: %w", i, name, err))
			continue
		}

		seen[name] = true
		repos = append(repos, model.RepoConfig{
			Name:     name,
			Skill:    skill,
			Branches: slices.Clone(e.Branches),
			Enabled:  e.Enabled == nil || *e.Enabled,
		})
	}

	return repos, invalid
}

// RepoLoader re-reads the repository list from the config file on every call.
// Only the [[repos]] section is hot; all other settings are fixed at startup.
type RepoLoader struct {
	path string

	mu         sync.Mutex
	lastReport string
}

// NewRepoLoader creates a RepoLoader for the file at path.
func NewRepoLoader(path string) *RepoLoader {
	return &RepoLoader{path: path}
}

// LoadRepos returns the valid repositories. Invalid entries are logged once
// per distinct set of problems and skipped.
func (l *RepoLoader) LoadRepos() ([]model.RepoConfig, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(l.path, cfg); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", l.path, err)
	}

	repos, invalid := cfg.RepoConfigs()
	l.report(invalid)
	return repos, nil
}

func (l *RepoLoader) report(invalid []error) {
	msg := errors.Join(invalid...)
	report := ""
	if msg != nil {
		report = msg.Error()
	}

	l.mu.Lock()
	changed := report != l.lastReport
	l.lastReport = report
	l.mu.Unlock()

	if !changed {
		return
	}
	for _, err := range invalid {
		slog.Warn("skipping invalid repository entry", "path", l.path, "error", err)
	}
}
