package driven

import (
	"errors"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

var (
	// ErrCorruptState is returned when the state file cannot be parsed.
	ErrCorruptState = errors.New("state file is corrupt")
	// ErrUnsupportedStateVersion is returned for a state file written by another format version.
	ErrUnsupportedStateVersion = errors.New("unsupported state file version")
	// ErrRecordNotFound is returned when a PR has no review record.
	ErrRecordNotFound = errors.New("review record not found")
)

// StateStore is the single-writer ledger of poll cursors and review facts.
// Mutations apply to memory only; Commit is the durability point.
type StateStore interface {
	// Snapshot returns a deep copy of the current document.
	Snapshot() model.StateDocument
	// Lookup returns the current record of one PR.
	Lookup(repo string, number int) (model.ReviewRecord, bool)
	ETag(repo string) string
	// EnsureRepo creates the repository entry if it does not exist yet.
	EnsureRepo(repo string)
	SetETag(repo, etag string)
	ClearETag(repo string)
	Record(repo string, number int, rec model.ReviewRecord)
	// MarkPending flags a PR as dispatched. An absent record is created with
	// an empty head SHA; an existing head SHA is left untouched.
	MarkPending(repo string, number int)
	// Requeue marks an existing record pending so the next cycle reviews it
	// again. It returns ErrRecordNotFound when the PR was never seen.
	Requeue(repo string, number int) error
	// Prune deletes every record of repo whose number keep rejects and
	// returns the deleted numbers.
	Prune(repo string, keep func(number int) bool) []int
	// PendingRepos lists repositories holding at least one pending record.
	PendingRepos() []string
	Commit() error
}
