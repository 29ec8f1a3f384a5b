// Package skill loads per-project review instructions from a checkout.
package skill

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SkillResolver = Resolver{}

// Resolver looks up a skill document in the checkout, trying in order
//
//	.claude/skills/<skill>/SKILL.md
//	.claude/commands/<skill>.md
//
// Nothing is cached: the document is read from the PR's own checkout.
type Resolver struct{}

// Candidates returns the paths Resolve tries, relative to the checkout root.
func Candidates(skill string) []string {
	return []string{
		filepath.Join(".claude", "skills", skill, "SKILL.md"),
		filepath.Join(".claude", "commands", skill+".md"),
	}
}

// Resolve returns the instruction text for skill, or driven.ErrSkillNotFound.
func (Resolver) Resolve(worktreePath, skill string) (string, error) {
	if err := model.ValidateSkillName(skill); err != nil {
		return "", err
	}

	for _, rel := range Candidates(skill) {
		data, err := os.ReadFile(filepath.Join(worktreePath, rel))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read skill %s: %w", rel, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("%w: %s is empty", driven.ErrSkillNotFound, rel)
		}
		return string(data), nil
	}

	return "", fmt.Errorf("%w: %q (looked for %s)", driven.ErrSkillNotFound, skill,
		strings.Join(Candidates(skill), ", "))
}
