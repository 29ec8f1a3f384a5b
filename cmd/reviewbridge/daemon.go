package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	agentadapter "github.com/ericfisherdev/reviewbridge/internal/adapter/driven/agent"
	gitadapter "github.com/ericfisherdev/reviewbridge/internal/adapter/driven/git"
	githubadapter "github.com/ericfisherdev/reviewbridge/internal/adapter/driven/github"
	"github.com/ericfisherdev/reviewbridge/internal/adapter/driven/skill"
	"github.com/ericfisherdev/reviewbridge/internal/adapter/driven/slack"
	sqliteadapter "github.com/ericfisherdev/reviewbridge/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/reviewbridge/internal/adapter/driven/statefile"
	httphandler "github.com/ericfisherdev/reviewbridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewbridge/internal/application"
	"github.com/ericfisherdev/reviewbridge/internal/config"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// drainSlack is how long shutdown waits for workers beyond the agent grace
// period before giving up on them.
const drainSlack = 10 * time.Second

func daemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the review daemon",
		Long: `Run the polling daemon in the foreground until SIGINT or SIGTERM.

Requires GH_TOKEN (or GITHUB_TOKEN). SLACK_WEBHOOK_URL enables Slack
notifications. Only the [[repos]] section of the config file is reloaded
while running; other settings need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.GitHubToken == "" {
		return errors.New("GH_TOKEN or GITHUB_TOKEN must be set")
	}
	slog.Info("config loaded",
		"path", cfg.Path,
		"listen_addr", cfg.Server.ListenAddr,
		"state_file", cfg.Paths.StateFile,
		"repo_dir", cfg.Paths.RepoDir,
		"poll_interval", cfg.PollInterval(),
		"max_concurrent_reviews", cfg.Polling.MaxConcurrentReviews,
		"review_timeout", cfg.ReviewTimeout(),
	)

	// 1. Signal context; fatal errors from the workers cancel it with a cause.
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)
	fatal := func(err error) {
		slog.Error("fatal daemon error, shutting down", "error", err)
		cancel(err)
	}

	// 2. State ledger. Corrupt or unknown-version files stop startup.
	store, err := statefile.Open(cfg.Paths.StateFile)
	if err != nil {
		return err
	}
	slog.Info("state loaded", "path", store.Path())

	// 3. Repositories, reread every cycle.
	repos := config.NewRepoLoader(cfg.Path)
	initial, err := repos.LoadRepos()
	if err != nil {
		return err
	}
	if len(initial) == 0 {
		slog.Warn("no valid repositories configured")
	}

	// 4. Driven adapters.
	gh, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHub.APIURL)
	if err != nil {
		return err
	}

	worktrees, err := gitadapter.NewManager(cfg.Paths.RepoDir, cfg.GitHub.CloneURLTemplate, cfg.GitHubToken)
	if err != nil {
		return err
	}

	var runLog driven.RunLog
	if cfg.Paths.RunLogDB != "" {
		db, err := sqliteadapter.Open(cfg.Paths.RunLogDB)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		runLog = sqliteadapter.NewRunRepo(db)
		slog.Info("run log opened", "path", db.Path())
	}

	var notifier driven.Notifier
	if cfg.SlackWebhookURL != "" {
		notifier = slack.NewNotifier(cfg.SlackWebhookURL)
		slog.Info("slack notifications enabled")
	}

	claude := agentadapter.NewClaude(cfg.Agent.Command, cfg.Agent.MaxTurns, cfg.Agent.ExtraArgs, cfg.ShutdownGrace())

	// 5. Recover from an unclean stop before the first cycle.
	if err := application.Reconcile(ctx, store, worktrees); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// 6. Application services.
	runner := application.NewReviewRunner(claude, gh, notifier, cfg.ReviewTimeout())
	reviewSvc := application.NewReviewService(worktrees, skill.Resolver{}, runner, store, runLog, fatal)
	scheduler := application.NewScheduler(gctx, cfg.Polling.MaxConcurrentReviews, reviewSvc)
	pollSvc := application.NewPollService(gh, store, scheduler, repos, cfg.PollInterval(), fatal)

	// 7. Operator API.
	apiHandler := httphandler.NewHandler(pollSvc, scheduler, store, runLog, slog.Default())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           httphandler.NewRouter(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // POST /poll waits for a whole cycle
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		pollSvc.Start(gctx)
		return nil
	})

	g.Go(func() error {
		watcher := config.NewWatcher(cfg.Path, pollSvc.Nudge)
		if err := watcher.Run(gctx); err != nil {
			slog.Warn("config watcher disabled", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("reviewbridge started",
		"repos", len(initial),
		"listen_addr", cfg.Server.ListenAddr,
	)

	// 8. Wait for shutdown, then give running reviews their grace period.
	groupErr := g.Wait()
	slog.Info("shutting down", "in_flight", len(scheduler.Running()))
	drainWorkers(scheduler, cfg.ShutdownGrace()+drainSlack)

	if err := store.Commit(); err != nil {
		slog.Error("final state commit failed", "error", err)
	}
	slog.Info("shutdown complete")

	if groupErr != nil {
		return groupErr
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// drainWorkers waits for in-flight reviews up to limit. Agents receive
// SIGTERM on shutdown and SIGKILL after their grace period, so this normally
// returns well before limit.
func drainWorkers(s *application.Scheduler, limit time.Duration) {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(limit):
		slog.Warn("reviews still running at shutdown, abandoning", "running", len(s.Running()))
	}
}
