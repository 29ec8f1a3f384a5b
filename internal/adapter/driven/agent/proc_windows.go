//go:build windows

package agent

import "os/exec"

// configureProcessGroup keeps the default cancellation, which kills the
// agent process.
func configureProcessGroup(*exec.Cmd) {}

func killProcessGroup(*exec.Cmd) {}
