package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

var (
	// ErrAlreadyInFlight is returned when the PR already has a running review.
	ErrAlreadyInFlight = errors.New("review already in flight")
	// ErrPoolSaturated is returned when every worker slot is busy. The item is
	// picked up again by a later poll cycle.
	ErrPoolSaturated = errors.New("review pool saturated")
	// ErrSchedulerStopped is returned after the scheduler's context ends.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrNotNeeded is returned when the dispatch claim rejects the item.
	ErrNotNeeded = errors.New("review no longer needed")
)

// Worker executes one work item. Process must record its outcome before
// returning; Recovered is called instead when Process panics.
type Worker interface {
	Process(ctx context.Context, item model.WorkItem)
	Recovered(ctx context.Context, item model.WorkItem, panicValue any)
}

// Scheduler runs work items on a bounded pool with at most one running item
// per (repo, PR). Submit never blocks and never queues.
type Scheduler struct {
	ctx      context.Context
	worker   Worker
	sem      *semaphore.Weighted
	capacity int

	mu       sync.Mutex
	inFlight map[model.WorkKey]model.WorkItem
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with capacity worker slots. Items run
// under ctx; canceling it interrupts running reviews.
func NewScheduler(ctx context.Context, capacity int, worker Worker) *Scheduler {
	if capacity < 1 {
		capacity = 1
	}
	return &Scheduler{
		ctx:      ctx,
		worker:   worker,
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		inFlight: make(map[model.WorkKey]model.WorkItem),
	}
}

// Submit starts item on a free worker slot. It returns ErrAlreadyInFlight or
// ErrPoolSaturated without starting anything.
func (s *Scheduler) Submit(item model.WorkItem) error {
	return s.Dispatch(item, nil)
}

// Dispatch is Submit with a claim. claim runs under the scheduler lock after
// the PR is known to be idle and a slot is reserved; returning false releases
// the slot and yields ErrNotNeeded. Workers record their outcome before they
// leave the in-flight set, so claim sees the result of any earlier review of
// the same PR.
func (s *Scheduler) Dispatch(item model.WorkItem, claim func() bool) error {
	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}

	key := item.Key()

	s.mu.Lock()
	if _, ok := s.inFlight[key]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrAlreadyInFlight)
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrPoolSaturated)
	}
	if claim != nil && !claim() {
		s.sem.Release(1)
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrNotNeeded)
	}
	s.inFlight[key] = item
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(item)
	return nil
}

// WhileIdle runs fn under the scheduler lock if the PR has no running
// review. No dispatch of the same PR can start while fn runs.
func (s *Scheduler) WhileIdle(key model.WorkKey, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrAlreadyInFlight)
	}
	return fn()
}

func (s *Scheduler) run(item model.WorkItem) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.leave(item.Key())
	defer func() {
		if r := recover(); r != nil {
			slog.Error("review worker panicked",
				"repo", item.Repo,
				"pr", item.Number,
				"head_sha", item.HeadSHA,
				"panic", r,
				"stack", strings.TrimSpace(string(debug.Stack())),
			)
			s.worker.Recovered(s.ctx, item, r)
		}
	}()

	s.worker.Process(s.ctx, item)
}

func (s *Scheduler) leave(key model.WorkKey) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

// InFlight reports whether the PR has a running review.
func (s *Scheduler) InFlight(key model.WorkKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

// Running returns the items currently being reviewed, ordered by repo and number.
func (s *Scheduler) Running() []model.WorkItem {
	s.mu.Lock()
	items := make([]model.WorkItem, 0, len(s.inFlight))
	for _, item := range s.inFlight {
		items = append(items, item)
	}
	s.mu.Unlock()

	slices.SortFunc(items, func(a, b model.WorkItem) int {
		if c := strings.Compare(a.Repo, b.Repo); c != 0 {
			return c
		}
		return a.Number - b.Number
	})
	return items
}

// Capacity returns the number of worker slots.
func (s *Scheduler) Capacity() int { return s.capacity }

// Wait blocks until every started item has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
