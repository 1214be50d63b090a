//go:build windows

package session

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

// Windows has no process groups to signal; both paths kill the direct child.
func terminateGroup(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
