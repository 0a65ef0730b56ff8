//go:build windows

package proc

import (
	"os"
	"syscall"

	"github.com/sidekick-proj/sidekick/internal/service"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func gracefulSignal(s service.StopSignal) syscall.Signal {
	// Windows has no cooperative signal delivery for arbitrary processes;
	// graceful and forced termination collapse to TerminateProcess.
	return syscall.SIGTERM
}

func signalGroup(pid int, _ syscall.Signal) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func processAlive(pid int) bool {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}
