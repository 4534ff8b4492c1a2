//go:build windows

package launch

import "os/exec"

// Windows has no process groups to signal; only the direct child is killed.
func setProcessGroup(cmd *exec.Cmd) {}

func terminateProcessTree(cmd *exec.Cmd) error {
	return killProcessTree(cmd)
}

func killProcessTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
