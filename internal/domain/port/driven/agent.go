package driven

import (
	"context"
	"errors"
)

// ErrAgentExit is wrapped when the agent process exits non-zero.
var ErrAgentExit = errors.New("review agent exited with failure")

// AgentRequest is one non-interactive agent invocation.
type AgentRequest struct {
	Dir          string // working directory, the PR worktree
	Prompt       string
	Instructions string // appended to the agent's system prompt
}

// AgentResult is what the agent produced. It is populated even when Run
// returns an error so partial output can be kept for diagnostics.
type AgentResult struct {
	Output      string // stdout
	Diagnostics string // stdout and stderr interleaved, capped
	ExitCode    int
}

// ReviewAgent runs the review agent once. Canceling ctx terminates the agent.
type ReviewAgent interface {
	Run(ctx context.Context, req AgentRequest) (AgentResult, error)
}
