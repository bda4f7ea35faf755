//go:build !windows

package proc

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so stop signals reach the whole service tree.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// isZombie reports a zombie state on Linux: the PID still exists but the
// process has already exited.
func isZombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
