// pkg/blocking/blocking.go - blocking application detection and closing for deployments

package blocking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/retry"
)

// RunningApp identifies one process that blocks a deployment.
type RunningApp struct {
	PID  int32
	Name string
	Path string
}

// StillRunningError is returned when blocking applications survive the
// close timeout and force-close is not allowed.
type StillRunningError struct {
	Apps []string
}

func (e *StillRunningError) Error() string {
	return fmt.Sprintf("blocking applications still running: %s", strings.Join(e.Apps, ", "))
}

// ClosePolicy controls how CloseApps treats running applications.
type ClosePolicy struct {
	Timeout      time.Duration // How long to wait for a graceful exit before acting
	Force        bool          // Terminate survivors instead of failing
	PollInterval time.Duration // Re-scan frequency while waiting (default 2s)
}

// Test seams for process enumeration and termination.
var (
	listProcesses = process.Processes
	killProcess   = func(pid int32) error {
		p, err := process.NewProcess(pid)
		if err != nil {
			return err
		}
		return p.Kill()
	}
)

// matchesSpec reports whether a process matches a blocking-app spec.
// Specs can be an absolute path, an executable name with .exe, or a bare
// application name; all comparisons are case-insensitive.
func matchesSpec(spec, procName, procExe string) bool {
	cleanSpec := strings.ToLower(spec)
	cleanName := strings.ToLower(procName)

	if looksLikePath(cleanSpec) {
		// Search by exact path
		return strings.EqualFold(procExe, spec)
	}
	if strings.HasSuffix(cleanSpec, ".exe") {
		// Search by executable name
		return cleanName == cleanSpec
	}
	// Bare name matches with or without .exe
	return cleanName == cleanSpec || cleanName == cleanSpec+".exe"
}

func looksLikePath(spec string) bool {
	if strings.HasPrefix(spec, "/") {
		return true
	}
	if len(spec) >= 3 && spec[1] == ':' && (spec[2] == '\\' || spec[2] == '/') {
		return true
	}
	return strings.Contains(spec, `\`)
}

// IsAppRunning checks if a specific application is currently running.
func IsAppRunning(appName string) bool {
	logging.Debug("Checking if application is running", "app", appName)

	apps, err := RunningApps([]string{appName})
	if err != nil {
		logging.Error("Failed to get process list", "error", err)
		return false
	}
	return len(apps) > 0
}

// RunningApps returns every running process matching one of the given specs.
func RunningApps(appNames []string) ([]RunningApp, error) {
	if len(appNames) == 0 {
		return nil, nil
	}

	processes, err := listProcesses()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var running []RunningApp
	for _, proc := range processes {
		name, err := proc.Name()
		if err != nil || name == "" {
			continue
		}
		// The exe path is only needed for path specs, but fetching it once
		// up front keeps the matching loop simple. Failures leave it empty.
		exe, _ := proc.Exe()

		for _, spec := range appNames {
			if matchesSpec(spec, name, exe) {
				running = append(running, RunningApp{PID: proc.Pid, Name: name, Path: exe})
				break
			}
		}
	}

	return running, nil
}

// CloseApps waits for the given applications to exit and, depending on
// policy, terminates the survivors. A nil return means no blocking
// application is left running.
func CloseApps(ctx context.Context, appNames []string, policy ClosePolicy) error {
	if len(appNames) == 0 {
		return nil
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = 2 * time.Second
	}

	running, err := RunningApps(appNames)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		logging.Debug("No blocking applications running", "apps", appNames)
		return nil
	}

	logging.Info("Blocking applications are running",
		"apps", appNames,
		"running", appList(running),
		"timeout", policy.Timeout.String())

	// Give the applications the configured countdown to exit on their own.
	deadline := time.Now().Add(policy.Timeout)
	for policy.Timeout > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.PollInterval):
		}

		running, err = RunningApps(appNames)
		if err != nil {
			return err
		}
		if len(running) == 0 {
			logging.Info("Blocking applications exited", "apps", appNames)
			return nil
		}
	}

	if !policy.Force {
		return &StillRunningError{Apps: appList(running)}
	}

	// Force-terminate the survivors and verify each one is gone.
	for _, app := range running {
		logging.Warn("Terminating blocking application", "app", app.Name, "pid", app.PID)
		if err := killProcess(app.PID); err != nil {
			logging.Warn("Failed to terminate process", "app", app.Name, "pid", app.PID, "error", err)
		}
	}

	verify := retry.RetryConfig{
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
	}
	return retry.Retry(verify, func() error {
		survivors, err := RunningApps(appNames)
		if err != nil {
			return err
		}
		if len(survivors) > 0 {
			return &StillRunningError{Apps: appList(survivors)}
		}
		return nil
	})
}

func appList(apps []RunningApp) []string {
	names := make([]string, 0, len(apps))
	for _, a := range apps {
		names = append(names, a.Name)
	}
	return names
}
