package application_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/reviewbridge/internal/application"
	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// daemon wires the real scheduler, pipeline and state file around fakes for
// GitHub, git and the agent.
type daemon struct {
	github    *mockGitHub
	worktrees *mockWorktrees
	skills    mockSkills
	agent     *mockAgent
	store     *failingStore
	repos     *staticRepos
	fatal     *fatalRecorder
	scheduler *application.Scheduler
	poller    *application.PollService

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// startDaemon starts the loop with no repositories configured, so the
// immediate first cycle is a no-op and tests drive every cycle explicitly.
func startDaemon(t *testing.T, statePath string, capacity int) *daemon {
	t.Helper()

	d := &daemon{
		github:    newMockGitHub(),
		worktrees: newMockWorktrees(t),
		skills:    mockSkills{missing: map[string]bool{}},
		agent:     &mockAgent{},
		store:     &failingStore{Store: openStore(t, statePath)},
		repos:     &staticRepos{},
		fatal:     &fatalRecorder{},
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	runner := application.NewReviewRunner(d.agent, d.github, nil, time.Minute)
	service := application.NewReviewService(d.worktrees, d.skills, runner, d.store, &mockRunLog{}, d.fatal.fatal)
	d.scheduler = application.NewScheduler(ctx, capacity, service)
	d.poller = application.NewPollService(d.github, d.store, d.scheduler, d.repos, time.Hour, d.fatal.fatal)

	go func() {
		defer close(d.done)
		d.poller.Start(ctx)
	}()
	t.Cleanup(d.stop)

	require.NoError(t, d.poller.TriggerPoll(ctx))
	return d
}

func (d *daemon) stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		<-d.done
		d.scheduler.Wait()
	})
}

// cycle runs one poll and waits for every review it dispatched.
func (d *daemon) cycle(t *testing.T) error {
	t.Helper()
	err := d.poller.TriggerPoll(context.Background())
	d.scheduler.Wait()
	return err
}

func (d *daemon) record(t *testing.T, number int) (model.ReviewRecord, bool) {
	t.Helper()
	return d.store.Snapshot().Record("acme/widgets", number)
}

// gateAgent makes every review block until the returned func is called.
func gateAgent(a *mockAgent) func() {
	gate := make(chan struct{})
	a.run = func(ctx context.Context, _ driven.AgentRequest) (driven.AgentResult, error) {
		select {
		case <-gate:
			return driven.AgentResult{Output: "ok"}, nil
		case <-ctx.Done():
			return driven.AgentResult{}, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func TestPoll_ReviewsOncePerHeadSHA(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())

	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.cycle(t))

	first, ok := d.record(t, 7)
	require.True(t, ok)
	assert.Equal(t, "abc123", first.HeadSHA)
	assert.Equal(t, model.ReviewStatusCompleted, first.Status)
	assert.Len(t, d.github.upsertCalls(), 1)

	// Same head, listing changed for other reasons: nothing to do.
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.cycle(t))
	assert.Equal(t, 1, d.agent.calls())

	// New push: exactly one more review.
	d.github.setPRs("acme/widgets", widgetsPR(7, "def456"))
	require.NoError(t, d.cycle(t))
	assert.Equal(t, 2, d.agent.calls())

	rec, _ := d.record(t, 7)
	assert.Equal(t, "def456", rec.HeadSHA)
	assert.Equal(t, model.ReviewStatusCompleted, rec.Status)
	assert.True(t, rec.ReviewedAt.After(first.ReviewedAt), "reviewed_at advances with the new head")

	_, _, violations := d.worktrees.counts()
	assert.Zero(t, violations)
}

func TestPoll_NotModifiedShortCircuits(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))

	require.NoError(t, d.cycle(t))
	assert.Equal(t, `"v1"`, d.store.ETag("acme/widgets"))

	require.NoError(t, d.cycle(t))
	stats, ok := d.poller.LastCycle()
	require.True(t, ok)
	assert.Equal(t, 1, stats.NotModified)
	assert.Zero(t, stats.Dispatched)
	assert.Equal(t, 1, d.agent.calls())
}

func TestPoll_ConfigChangeBypassesETag(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.cycle(t))

	changed := widgetsRepo()
	changed.Branches = []string{"main", "release"}
	d.repos.set(changed)

	require.NoError(t, d.cycle(t))
	stats, _ := d.poller.LastCycle()
	assert.Zero(t, stats.NotModified, "changed rules must re-list")
}

func TestPoll_PrunesClosedPRs(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"), widgetsPR(8, "fff000"))
	require.NoError(t, d.cycle(t))

	d.github.setPRs("acme/widgets", widgetsPR(8, "fff000"))
	require.NoError(t, d.cycle(t))

	_, ok := d.record(t, 7)
	assert.False(t, ok, "closed PR pruned")
	_, ok = d.record(t, 8)
	assert.True(t, ok)

	stats, _ := d.poller.LastCycle()
	assert.Equal(t, 1, stats.Pruned)
}

func TestPoll_InFlightPRSurvivesPrune(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	release := gateAgent(d.agent)
	defer release()

	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.poller.TriggerPoll(context.Background()))
	require.True(t, d.scheduler.InFlight(model.WorkKey{Repo: "acme/widgets", Number: 7}))

	rec, ok := d.record(t, 7)
	require.True(t, ok, "record created at dispatch")
	assert.Equal(t, model.ReviewStatusPending, rec.Status)
	durable := openStore(t, d.store.Path()).Snapshot()
	_, ok = durable.Record("acme/widgets", 7)
	assert.True(t, ok, "dispatch committed with the cycle")

	// PR closes while its review runs.
	d.github.setPRs("acme/widgets")
	require.NoError(t, d.poller.TriggerPoll(context.Background()))
	_, ok = d.record(t, 7)
	assert.True(t, ok, "in-flight record kept")

	release()
	d.scheduler.Wait()
	rec, ok = d.record(t, 7)
	require.True(t, ok)
	assert.Equal(t, model.ReviewStatusCompleted, rec.Status)

	// Now idle, the next full listing prunes it.
	d.github.setPRs("acme/widgets")
	require.NoError(t, d.cycle(t))
	_, ok = d.record(t, 7)
	assert.False(t, ok)
}

func TestPoll_ReviewFinishingAfterSnapshotIsNotRepeated(t *testing.T) {
	for _, tt := range []struct {
		name string
		fail bool
		want model.ReviewStatus
	}{
		{"completed", false, model.ReviewStatusCompleted},
		{"sticky failure", true, model.ReviewStatusFailed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
			gate := make(chan struct{})
			var once sync.Once
			release := func() { once.Do(func() { close(gate) }) }
			defer release()
			d.agent.run = func(ctx context.Context, _ driven.AgentRequest) (driven.AgentResult, error) {
				select {
				case <-gate:
				case <-ctx.Done():
					return driven.AgentResult{}, ctx.Err()
				}
				if tt.fail {
					return driven.AgentResult{ExitCode: 1}, fmt.Errorf("%w: exit code 1", driven.ErrAgentExit)
				}
				return driven.AgentResult{Output: "ok"}, nil
			}

			d.repos.set(widgetsRepo())
			d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
			require.NoError(t, d.poller.TriggerPoll(context.Background()))
			require.True(t, d.scheduler.InFlight(model.WorkKey{Repo: "acme/widgets", Number: 7}))

			// The next cycle diffs a snapshot holding the pending record; the
			// review then finishes before dispatch.
			d.store.afterNextSnapshot(func() {
				release()
				d.scheduler.Wait()
			})
			d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
			require.NoError(t, d.cycle(t))

			rec, ok := d.record(t, 7)
			require.True(t, ok)
			assert.Equal(t, tt.want, rec.Status)
			assert.Equal(t, "abc123", rec.HeadSHA)
			assert.Equal(t, 1, d.agent.calls(), "same head SHA reviewed once")

			stats, _ := d.poller.LastCycle()
			assert.Zero(t, stats.Dispatched)
			assert.Equal(t, `"v2"`, d.store.ETag("acme/widgets"), "nothing was deferred")
		})
	}
}

func TestPoll_SaturatedPoolDefersWork(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 1)
	release := gateAgent(d.agent)
	defer release()

	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"), widgetsPR(8, "fff000"))
	require.NoError(t, d.poller.TriggerPoll(context.Background()))

	stats, _ := d.poller.LastCycle()
	assert.Equal(t, 1, stats.Dispatched)
	assert.Equal(t, 1, stats.Deferred)
	assert.Empty(t, d.store.ETag("acme/widgets"), "partial dispatch must not be cached")

	_, ok := d.record(t, 8)
	assert.False(t, ok, "deferred PR not recorded")

	release()
	d.scheduler.Wait()

	require.NoError(t, d.cycle(t))
	rec, ok := d.record(t, 8)
	require.True(t, ok)
	assert.Equal(t, model.ReviewStatusCompleted, rec.Status)
	assert.Equal(t, 2, d.agent.calls())
	assert.Equal(t, `"v1"`, d.store.ETag("acme/widgets"))
}

func TestPoll_RestartDoesNotRepeatReviews(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first := startDaemon(t, path, 2)
	first.repos.set(widgetsRepo())
	first.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, first.cycle(t))
	first.stop()

	second := startDaemon(t, path, 2)
	second.repos.set(widgetsRepo())
	second.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, second.cycle(t))

	assert.Zero(t, second.agent.calls())
	assert.Empty(t, second.github.upsertCalls())
}

func TestPoll_ListingFailureBacksOff(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	gadgets := model.RepoConfig{Name: "acme/gadgets", Skill: model.DefaultSkill, Enabled: true}
	d.repos.set(widgetsRepo(), gadgets)
	d.github.listErr["acme/widgets"] = errors.New("502 bad gateway")
	d.github.setPRs("acme/gadgets", model.PullRequest{Number: 1, HeadSHA: "aaa", BaseBranch: "main"})

	err := d.cycle(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/widgets")
	assert.Equal(t, 1, d.agent.calls(), "other repositories still served")

	before := d.github.listCalls()
	require.NoError(t, d.cycle(t))
	assert.Equal(t, before+1, d.github.listCalls(), "failing repository skipped while backing off")
}

func TestPoll_SkipsDisabledRepos(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	repo := widgetsRepo()
	repo.Enabled = false
	d.repos.set(repo)
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))

	require.NoError(t, d.cycle(t))
	assert.Zero(t, d.github.listCalls())
}

func TestPoll_RepoLoadErrorKeepsPreviousList(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.cycle(t))

	d.repos.mu.Lock()
	d.repos.err = errors.New("config unreadable")
	d.repos.mu.Unlock()
	d.github.setPRs("acme/widgets", widgetsPR(7, "def456"))

	require.NoError(t, d.cycle(t))
	rec, _ := d.record(t, 7)
	assert.Equal(t, "def456", rec.HeadSHA)
}

func TestPoll_CommitFailureIsFatal(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.store.mu.Lock()
	d.store.fail = true
	d.store.mu.Unlock()

	require.Error(t, d.cycle(t))
	assert.GreaterOrEqual(t, d.fatal.count(), 1)
}

func TestRerun(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	d.repos.set(widgetsRepo())
	d.skills.missing["review-pr"] = true
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.cycle(t))

	rec, _ := d.record(t, 7)
	require.Equal(t, model.ReviewStatusFailed, rec.Status)

	// Fixing the skill alone does not retry a failed head.
	delete(d.skills.missing, "review-pr")
	require.NoError(t, d.cycle(t))
	assert.Zero(t, d.agent.calls())

	require.NoError(t, d.poller.Rerun("acme/widgets", 7))
	require.NoError(t, d.cycle(t))

	rec, _ = d.record(t, 7)
	assert.Equal(t, model.ReviewStatusCompleted, rec.Status)
	assert.Equal(t, 1, d.agent.calls())
}

func TestRerun_Errors(t *testing.T) {
	d := startDaemon(t, filepath.Join(t.TempDir(), "state.json"), 2)
	release := gateAgent(d.agent)
	defer release()

	err := d.poller.Rerun("acme/widgets", 99)
	assert.ErrorIs(t, err, driven.ErrRecordNotFound)

	d.repos.set(widgetsRepo())
	d.github.setPRs("acme/widgets", widgetsPR(7, "abc123"))
	require.NoError(t, d.poller.TriggerPoll(context.Background()))

	err = d.poller.Rerun("acme/widgets", 7)
	assert.ErrorIs(t, err, application.ErrAlreadyInFlight)

	release()
	d.scheduler.Wait()
	rec, ok := d.record(t, 7)
	require.True(t, ok)
	assert.Equal(t, model.ReviewStatusCompleted, rec.Status, "a rejected re-run leaves the record alone")
}

func TestReconcile_ClearsPendingETags(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	store.SetETag("acme/widgets", `"v1"`)
	store.SetETag("acme/gadgets", `"v9"`)
	store.Record("acme/widgets", 7, model.ReviewRecord{HeadSHA: "abc123", Status: model.ReviewStatusCompleted})
	store.MarkPending("acme/widgets", 7)
	require.NoError(t, store.Commit())

	require.NoError(t, application.Reconcile(context.Background(), store, newMockWorktrees(t)))

	assert.Empty(t, store.ETag("acme/widgets"))
	assert.Equal(t, `"v9"`, store.ETag("acme/gadgets"))

	rec, ok := store.Snapshot().Record("acme/widgets", 7)
	require.True(t, ok)
	assert.Equal(t, model.ReviewStatusPending, rec.Status)
	assert.Equal(t, "abc123", rec.HeadSHA)
}
