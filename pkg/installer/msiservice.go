// pkg/installer/msiservice.go - Windows Installer service coordination.
//
// Only one msiexec can run at a time. Before invoking it we probe whether
// the service is free, and after a timeout we tear down the whole process
// tree rather than leave an orphaned installer behind.

package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/logging"
)

// waitForInstallerIdle polls until the Windows Installer service responds
// promptly or maxWait passes.
func waitForInstallerIdle(maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for time.Now().Before(deadline) {
		if !installerBusy() {
			return nil
		}
		logging.Debug("Windows Installer is busy, waiting")
		time.Sleep(10 * time.Second)
	}
	return fmt.Errorf("Windows Installer did not become available within %s", maxWait)
}

// installerBusy probes the service with a trivial msiexec invocation under
// a short watchdog. msiexec answers /help promptly, even with an error,
// unless an install holds the service.
func installerBusy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := execCommandContext(ctx, commandMsi, "/help")
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}

	_ = cmd.Run()
	return ctx.Err() == context.DeadlineExceeded
}

// terminateProcessTree kills a process and everything it spawned.
func terminateProcessTree(pid int) {
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := cmd.Run(); err != nil {
		logging.Debug("Failed to terminate process tree", "pid", pid, "error", err)
		return
	}
	logging.Debug("Terminated process tree", "pid", pid)
}
