//go:build !windows

package proc

import (
	"bytes"
	"os"
	"strconv"
	"syscall"

	"github.com/sidekick-proj/sidekick/internal/service"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func gracefulSignal(s service.StopSignal) syscall.Signal {
	if s == service.StopSignalInt {
		return syscall.SIGINT
	}
	return syscall.SIGTERM
}

// signalGroup signals the whole process group so children spawned by the
// service are covered too.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// processAlive reports whether pid still exists. A zombie counts as gone:
// the exit observer will reap it momentarily.
func processAlive(pid int) bool {
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombie returns true if /proc/<pid>/status reports state Z (Linux only;
// the file does not exist elsewhere and the check degrades to false).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
