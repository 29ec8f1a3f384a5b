package application_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ericfisherdev/reviewbridge/internal/adapter/driven/statefile"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// --- Mock implementations ---

type upsertCall struct {
	Repo   string
	Number int
	Marker string
	Body   string
}

// mockGitHub serves listings with ETags the way GitHub does: a request whose
// If-None-Match equals the current ETag gets a 304.
type mockGitHub struct {
	mu        sync.Mutex
	prs       map[string][]model.PullRequest
	etags     map[string]string
	version   int
	listErr   map[string]error
	upsertErr error
	lists     []string // repo names in call order
	notMod    int
	upserts   []upsertCall
}

func newMockGitHub() *mockGitHub {
	return &mockGitHub{
		prs:     map[string][]model.PullRequest{},
		etags:   map[string]string{},
		listErr: map[string]error{},
	}
}

// setPRs replaces the open PRs of repo and rotates its ETag.
func (m *mockGitHub) setPRs(repo string, prs ...model.PullRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.prs[repo] = prs
	m.etags[repo] = fmt.Sprintf(`"v%d"`, m.version)
}

func (m *mockGitHub) ListOpenPullRequests(_ context.Context, repo, etag string) (model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, repo)

	if err := m.listErr[repo]; err != nil {
		return model.Listing{}, err
	}
	current := m.etags[repo]
	if etag != "" && etag == current {
		m.notMod++
		return model.Listing{PRs: []model.PullRequest{}, ETag: etag, NotModified: true}, nil
	}
	prs := append([]model.PullRequest{}, m.prs[repo]...)
	return model.Listing{PRs: prs, ETag: current}, nil
}

func (m *mockGitHub) UpsertComment(_ context.Context, repo string, number int, marker, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return "", m.upsertErr
	}
	m.upserts = append(m.upserts, upsertCall{Repo: repo, Number: number, Marker: marker, Body: body})
	return fmt.Sprintf("https://github.com/%s/pull/%d#issuecomment-%d", repo, number, len(m.upserts)), nil
}

func (m *mockGitHub) upsertCalls() []upsertCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upsertCall{}, m.upserts...)
}

func (m *mockGitHub) listCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists)
}

// mockWorktrees hands out directories and fails if one PR is acquired twice.
type mockWorktrees struct {
	root       string
	mu         sync.Mutex
	active     map[model.WorkKey]bool
	acquireErr error
	acquired   int
	released   int
	violations int
}

func newMockWorktrees(t *testing.T) *mockWorktrees {
	return &mockWorktrees{root: t.TempDir(), active: map[model.WorkKey]bool{}}
}

func (m *mockWorktrees) Acquire(_ context.Context, repo string, number int, headSHA string) (model.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return model.Worktree{}, m.acquireErr
	}
	key := model.WorkKey{Repo: repo, Number: number}
	if m.active[key] {
		m.violations++
	}
	m.active[key] = true
	m.acquired++

	path := filepath.Join(m.root, fmt.Sprintf("%s-%d", filepath.Base(repo), number))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return model.Worktree{}, err
	}
	return model.Worktree{Repo: repo, Number: number, HeadSHA: headSHA, Path: path}, nil
}

func (m *mockWorktrees) Release(_ context.Context, wt model.Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, model.WorkKey{Repo: wt.Repo, Number: wt.Number})
	m.released++
	return nil
}

func (m *mockWorktrees) Reconcile(context.Context, func(model.WorkKey) bool) (int, error) {
	return 0, nil
}

func (m *mockWorktrees) counts() (acquired, released, violations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released, m.violations
}

// mockSkills returns the same instructions for every checkout unless the
// skill is listed as missing.
type mockSkills struct {
	missing map[string]bool
}

func (m mockSkills) Resolve(_ string, skill string) (string, error) {
	if m.missing[skill] {
		return "", fmt.Errorf("%w: %q", driven.ErrSkillNotFound, skill)
	}
	return "instructions for " + skill, nil
}

// mockAgent delegates to run, which defaults to a successful review.
type mockAgent struct {
	mu       sync.Mutex
	run      func(ctx context.Context, req driven.AgentRequest) (driven.AgentResult, error)
	requests []driven.AgentRequest
}

func (m *mockAgent) Run(ctx context.Context, req driven.AgentRequest) (driven.AgentResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	run := m.run
	m.mu.Unlock()

	if run == nil {
		return driven.AgentResult{Output: "## Summary\nLooks good.\n"}, nil
	}
	return run(ctx, req)
}

func (m *mockAgent) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockRunLog struct {
	mu   sync.Mutex
	runs []model.ReviewRun
}

func (m *mockRunLog) Insert(_ context.Context, run model.ReviewRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockRunLog) List(context.Context, model.RunFilter) ([]model.ReviewRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ReviewRun{}, m.runs...), nil
}

func (m *mockRunLog) all() []model.ReviewRun {
	runs, _ := m.List(context.Background(), model.RunFilter{})
	return runs
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []model.ReviewNotice
	err     error
}

func (m *mockNotifier) Notify(_ context.Context, n model.ReviewNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	return m.err
}

// failingStore wraps a real store, fails commits on demand and can run a
// one-shot hook right after a snapshot is taken.
type failingStore struct {
	*statefile.Store
	mu         sync.Mutex
	fail       bool
	onSnapshot func()
}

func (f *failingStore) Snapshot() model.StateDocument {
	doc := f.Store.Snapshot()
	f.mu.Lock()
	hook := f.onSnapshot
	f.onSnapshot = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return doc
}

func (f *failingStore) afterNextSnapshot(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSnapshot = hook
}

func (f *failingStore) Commit() error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Commit()
}

// staticRepos is a RepoSource with a fixed, swappable list.
type staticRepos struct {
	mu    sync.Mutex
	repos []model.RepoConfig
	err   error
}

func (s *staticRepos) LoadRepos() ([]model.RepoConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.RepoConfig{}, s.repos...), nil
}

func (s *staticRepos) set(repos ...model.RepoConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = repos
}

// fatalRecorder collects errors passed to the fatal hook.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (f *fatalRecorder) fatal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fatalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

// --- Helpers ---

func openStore(t *testing.T, path string) *statefile.Store {
	t.Helper()
	store, err := statefile.Open(path)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	return store
}

func widgetsPR(number int, sha string) model.PullRequest {
	return model.PullRequest{
		Number:     number,
		Title:      fmt.Sprintf("Widget change %d", number),
		Author:     "alice",
		URL:        fmt.Sprintf("https://github.com/acme/widgets/pull/%d", number),
		HeadSHA:    sha,
		Branch:     fmt.Sprintf("feature-%d", number),
		BaseBranch: "main",
	}
}

func widgetsRepo() model.RepoConfig {
	return model.RepoConfig{Name: "acme/widgets", Skill: model.DefaultSkill, Enabled: true}
}
