package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WorktreeManager = (*Manager)(nil)

const (
	mirrorDir    = "mirror.git"
	worktreesDir = "worktrees"
	worktreePfx  = "pr-"
)

// Manager lays out checkouts as
//
//	<root>/<owner>_<name>/mirror.git
//	<root>/<owner>_<name>/worktrees/pr-<N>
//
// Git metadata operations on one mirror are serialized by a per-mirror mutex.
type Manager struct {
	root        string
	urlTemplate string
	token       string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager rooted at root. urlTemplate is formatted with
// the owner/name of a repository to produce its clone URL.
func NewManager(root, urlTemplate, token string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repo dir %s: %w", root, err)
	}
	return &Manager{
		root:        abs,
		urlTemplate: urlTemplate,
		token:       token,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) lock(slug string) func() {
	m.mu.Lock()
	l, ok := m.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		m.locks[slug] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// repoSlug maps owner/name to the directory name owner_name. GitHub owners
// cannot contain underscores, so the first underscore splits it back.
func repoSlug(repo string) (string, error) {
	owner, name, err := model.SplitRepoName(repo)
	if err != nil {
		return "", err
	}
	return owner + "_" + name, nil
}

func slugRepo(slug string) (string, bool) {
	owner, name, ok := strings.Cut(slug, "_")
	if !ok || owner == "" || name == "" {
		return "", false
	}
	return owner + "/" + name, true
}

// WorktreePath returns where the checkout of repo#number lives.
func (m *Manager) WorktreePath(repo string, number int) (string, error) {
	slug, err := repoSlug(repo)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, slug, worktreesDir, worktreePfx+strconv.Itoa(number)), nil
}

func (m *Manager) mirrorPath(slug string) string {
	return filepath.Join(m.root, slug, mirrorDir)
}

// Acquire fetches refs/pull/<N>/head into the mirror and checks out headSHA in
// a fresh detached worktree. Fetch failures wrap driven.ErrFetchFailed.
func (m *Manager) Acquire(ctx context.Context, repo string, number int, headSHA string) (model.Worktree, error) {
	slug, err := repoSlug(repo)
	if err != nil {
		return model.Worktree{}, err
	}
	path, _ := m.WorktreePath(repo, number)
	mirror := m.mirrorPath(slug)

	unlock := m.lock(slug)
	defer unlock()

	if err := m.ensureMirror(ctx, repo, mirror); err != nil {
		return model.Worktree{}, err
	}

	ref := fmt.Sprintf("+refs/pull/%d/head:refs/pull/%d/head", number, number)
	if _, err := runGit(ctx, mirror, authEnv(m.token), "fetch", "--no-tags", "--quiet", "origin", ref); err != nil {
		return model.Worktree{}, fmt.Errorf("%w: %s#%d: %w", driven.ErrFetchFailed, repo, number, err)
	}
	if _, err := runGit(ctx, mirror, nil, "cat-file", "-e", headSHA+"^{commit}"); err != nil {
		// The PR moved past headSHA between listing and fetch.
		return model.Worktree{}, fmt.Errorf("%w: %s#%d: commit %s not found after fetch",
			driven.ErrFetchFailed, repo, number, headSHA)
	}

	if err := m.removeLocked(ctx, mirror, path); err != nil {
		return model.Worktree{}, fmt.Errorf("clearing previous worktree for %s#%d: %w", repo, number, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.Worktree{}, fmt.Errorf("create worktrees directory: %w", err)
	}
	if _, err := runGit(ctx, mirror, nil, "worktree", "add", "--detach", path, headSHA); err != nil {
		return model.Worktree{}, fmt.Errorf("adding worktree for %s#%d: %w", repo, number, err)
	}

	slog.Debug("worktree acquired", "repo", repo, "pr", number, "head_sha", headSHA, "path", path)

	return model.Worktree{Repo: repo, Number: number, HeadSHA: headSHA, Path: path}, nil
}

// ensureMirror initializes the bare mirror on first use and keeps its origin
// URL in sync with the configured template.
func (m *Manager) ensureMirror(ctx context.Context, repo, mirror string) error {
	url := fmt.Sprintf(m.urlTemplate, repo)

	if _, err := os.Stat(filepath.Join(mirror, "HEAD")); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(mirror, 0o755); err != nil {
			return fmt.Errorf("create mirror directory: %w", err)
		}
		if _, err := runGit(ctx, mirror, nil, "init", "--bare", "--quiet"); err != nil {
			return fmt.Errorf("initializing mirror for %s: %w", repo, err)
		}
		if _, err := runGit(ctx, mirror, nil, "remote", "add", "origin", url); err != nil {
			return fmt.Errorf("adding origin for %s: %w", repo, err)
		}
		slog.Info("mirror created", "repo", repo, "path", mirror)
		return nil
	} else if err != nil {
		return fmt.Errorf("stat mirror for %s: %w", repo, err)
	}

	current, _ := runGit(ctx, mirror, nil, "config", "--get", "remote.origin.url")
	if current != url {
		if _, err := runGit(ctx, mirror, nil, "remote", "set-url", "origin", url); err != nil {
			return fmt.Errorf("updating origin for %s: %w", repo, err)
		}
	}
	return nil
}

// Release removes the worktree directory and its registration in the mirror.
func (m *Manager) Release(ctx context.Context, wt model.Worktree) error {
	slug, err := repoSlug(wt.Repo)
	if err != nil {
		return err
	}

	unlock := m.lock(slug)
	defer unlock()

	if err := m.removeLocked(ctx, m.mirrorPath(slug), wt.Path); err != nil {
		return fmt.Errorf("releasing worktree for %s#%d: %w", wt.Repo, wt.Number, err)
	}
	slog.Debug("worktree released", "repo", wt.Repo, "pr", wt.Number, "path", wt.Path)
	return nil
}

// removeLocked deletes path and prunes stale registrations. Caller holds the
// mirror lock.
func (m *Manager) removeLocked(ctx context.Context, mirror, path string) error {
	if _, err := os.Stat(path); err == nil {
		// Best effort; the directory removal below is what matters.
		_, _ = runGit(ctx, mirror, nil, "worktree", "remove", "--force", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if _, err := os.Stat(filepath.Join(mirror, "HEAD")); err != nil {
		return nil
	}
	if _, err := runGit(ctx, mirror, nil, "worktree", "prune"); err != nil {
		return err
	}
	return nil
}

// Reconcile removes every worktree under the root that owned does not claim.
// It runs at startup, before any worker exists, to clean up after a crash.
func (m *Manager) Reconcile(ctx context.Context, owned func(model.WorkKey) bool) (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.root, "*", worktreesDir, worktreePfx+"*"))
	if err != nil {
		return 0, fmt.Errorf("scan worktrees: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, path := range matches {
		slug := filepath.Base(filepath.Dir(filepath.Dir(path)))
		repo, ok := slugRepo(slug)
		number, convErr := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), worktreePfx))
		if !ok || convErr != nil {
			slog.Warn("ignoring unrecognized worktree directory", "path", path)
			continue
		}
		if owned(model.WorkKey{Repo: repo, Number: number}) {
			continue
		}

		unlock := m.lock(slug)
		err := m.removeLocked(ctx, m.mirrorPath(slug), path)
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		slog.Warn("removed orphaned worktree", "repo", repo, "pr", number, "path", path)
	}

	return removed, errors.Join(errs...)
}
