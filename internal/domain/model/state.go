package model

import "maps"

// StateVersion is the only state document version this build reads and writes.
const StateVersion = 1

// StateDocument is the persisted ledger: per repository poll cursor and review facts.
type StateDocument struct {
	Version int                  `json:"version"`
	Repos   map[string]RepoState `json:"repos"`
}

// RepoState is the per-repository part of the state document.
type RepoState struct {
	ETag string               `json:"etag"`
	PRs  map[int]ReviewRecord `json:"prs"`
}

// NewStateDocument returns an empty document at the current version.
func NewStateDocument() StateDocument {
	return StateDocument{Version: StateVersion, Repos: map[string]RepoState{}}
}

// Clone returns a deep copy safe to read while the original is mutated.
func (d StateDocument) Clone() StateDocument {
	out := StateDocument{Version: d.Version, Repos: make(map[string]RepoState, len(d.Repos))}
	for name, rs := range d.Repos {
		out.Repos[name] = rs.Clone()
	}
	return out
}

// Clone returns a deep copy of the repository state.
func (r RepoState) Clone() RepoState {
	prs := make(map[int]ReviewRecord, len(r.PRs))
	maps.Copy(prs, r.PRs)
	return RepoState{ETag: r.ETag, PRs: prs}
}

// Record returns the review record for a PR, if any.
func (d StateDocument) Record(repo string, number int) (ReviewRecord, bool) {
	rs, ok := d.Repos[repo]
	if !ok {
		return ReviewRecord{}, false
	}
	rec, ok := rs.PRs[number]
	return rec, ok
}
