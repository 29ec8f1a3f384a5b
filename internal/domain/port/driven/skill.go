package driven

import "errors"

// ErrSkillNotFound is returned when a checkout has no document for the skill.
var ErrSkillNotFound = errors.New("skill not found")

// SkillResolver loads a project instruction document from a checkout.
type SkillResolver interface {
	Resolve(worktreePath, skill string) (string, error)
}
