// Package statefile implements the StateStore port as a JSON document that is
// replaced atomically on every commit.
package statefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StateStore = (*Store)(nil)

// Store holds the state document in memory behind a single mutex.
type Store struct {
	path string

	mu  sync.Mutex
	doc model.StateDocument
}

// fileDocument mirrors model.StateDocument with a pointer version so a
// missing field can be told apart from version 0.
type fileDocument struct {
	Version *int                       `json:"version"`
	Repos   map[string]model.RepoState `json:"repos"`
}

// Open loads the state file at path, or starts empty when it does not exist.
func Open(path string) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path, doc: doc}, nil
}

// Load reads and validates a state file without taking ownership of it.
func Load(path string) (model.StateDocument, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewStateDocument(), nil
	}
	if err != nil {
		return model.StateDocument{}, fmt.Errorf("read state file %s: %w", path, err)
	}
	return decode(data)
}

func decode(data []byte) (model.StateDocument, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return model.StateDocument{}, fmt.Errorf("%w: empty file", driven.ErrCorruptState)
	}

	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return model.StateDocument{}, fmt.Errorf("%w: %w", driven.ErrCorruptState, err)
	}
	if fd.Version == nil {
		return model.StateDocument{}, fmt.Errorf("%w: missing version", driven.ErrCorruptState)
	}
	if *fd.Version != model.StateVersion {
		return model.StateDocument{}, fmt.Errorf("%w: got %d, want %d",
			driven.ErrUnsupportedStateVersion, *fd.Version, model.StateVersion)
	}

	doc := model.NewStateDocument()
	for name, rs := range fd.Repos {
		if rs.PRs == nil {
			rs.PRs = map[int]model.ReviewRecord{}
		}
		for n, rec := range rs.PRs {
			if !rec.Status.Valid() {
				return model.StateDocument{}, fmt.Errorf("%w: %s#%d has status %q",
					driven.ErrCorruptState, name, n, rec.Status)
			}
		}
		doc.Repos[name] = rs
	}
	return doc, nil
}

// Path returns the file the store commits to.
func (s *Store) Path() string { return s.path }

func (s *Store) Snapshot() model.StateDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Store) Lookup(repo string, number int) (model.ReviewRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Record(repo, number)
}

func (s *Store) ETag(repo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Repos[repo].ETag
}

func (s *Store) EnsureRepo(repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoLocked(repo)
}

func (s *Store) SetETag(repo, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.repoLocked(repo)
	rs.ETag = etag
	s.doc.Repos[repo] = rs
}

func (s *Store) ClearETag(repo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.doc.Repos[repo]
	if !ok {
		return
	}
	rs.ETag = ""
	s.doc.Repos[repo] = rs
}

func (s *Store) Record(repo string, number int, rec model.ReviewRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoLocked(repo).PRs[number] = rec
}

func (s *Store) MarkPending(repo string, number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prs := s.repoLocked(repo).PRs
	rec := prs[number]
	rec.Status = model.ReviewStatusPending
	prs[number] = rec
}

func (s *Store) Requeue(repo string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Record(repo, number)
	if !ok {
		return fmt.Errorf("%s#%d: %w", repo, number, driven.ErrRecordNotFound)
	}
	rec.Status = model.ReviewStatusPending
	s.doc.Repos[repo].PRs[number] = rec
	return nil
}

func (s *Store) Prune(repo string, keep func(number int) bool) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prs := s.repoLocked(repo).PRs

	var removed []int
	for n := range prs {
		if !keep(n) {
			delete(prs, n)
			removed = append(removed, n)
		}
	}
	slices.Sort(removed)
	return removed
}

func (s *Store) PendingRepos() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repos []string
	for name, rs := range s.doc.Repos {
		for _, rec := range rs.PRs {
			if rec.Status == model.ReviewStatusPending {
				repos = append(repos, name)
				break
			}
		}
	}
	slices.Sort(repos)
	return repos
}

// Commit writes the document to a temp file, syncs it and renames it over the
// state file. A reader never observes a partially written file.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write state file %s: %w", s.path, err)
	}
	return nil
}

// repoLocked returns the repo entry, creating it on first use. The returned
// PRs map aliases the stored one. Caller holds s.mu.
func (s *Store) repoLocked(repo string) model.RepoState {
	rs, ok := s.doc.Repos[repo]
	if !ok || rs.PRs == nil {
		if !ok {
			rs = model.RepoState{}
		}
		rs.PRs = map[int]model.ReviewRecord{}
		s.doc.Repos[repo] = rs
	}
	return rs
}
