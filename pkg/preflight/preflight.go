// pkg/preflight/preflight.go - checks that run before a deployment touches
// the machine: free disk space, pending reboots, and applicability of the
// definition to this system.

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	version "github.com/hashicorp/go-version"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/predicates"
	"golang.org/x/sys/windows/registry"
)

// DiskSpaceError reports that the target volume is too small for the
// deployment.
type DiskSpaceError struct {
	Drive      string
	RequiredMB uint64
	FreeMB     uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space on %s: need %d MB, have %d MB",
		e.Drive, e.RequiredMB, e.FreeMB)
}

// NotApplicableError reports that the definition does not apply to this
// system. Reasons carries one entry per failed check.
type NotApplicableError struct {
	Reasons []string
}

func (e *NotApplicableError) Error() string {
	return "deployment not applicable: " + strings.Join(e.Reasons, "; ")
}

// diskUsage is abstracted for testing.
var diskUsage = disk.Usage

// CheckDiskSpace verifies the volume holding targetPath has at least
// requiredMB free. A requiredMB of zero skips the check.
func CheckDiskSpace(targetPath string, requiredMB int) error {
	if requiredMB <= 0 {
		return nil
	}

	drive := driveRoot(targetPath)
	usage, err := diskUsage(drive)
	if err != nil {
		return fmt.Errorf("failed to query disk usage for %s: %w", drive, err)
	}

	freeMB := usage.Free / 1024 / 1024
	logging.Info("Disk space check",
		"drive", drive,
		"requiredMB", requiredMB,
		"freeMB", freeMB,
	)

	if freeMB < uint64(requiredMB) {
		return &DiskSpaceError{
			Drive:      drive,
			RequiredMB: uint64(requiredMB),
			FreeMB:     freeMB,
		}
	}
	return nil
}

// driveRoot extracts the volume root from a path, falling back to the
// system drive when the path carries no volume.
func driveRoot(path string) string {
	if vol := filepath.VolumeName(path); vol != "" {
		return vol + `\`
	}
	if sysDrive := os.Getenv("SystemDrive"); sysDrive != "" {
		return sysDrive + `\`
	}
	return `C:\`
}

// Registry locations that indicate Windows is waiting on a restart.
var pendingRebootProbes = []struct {
	name string
	root registry.Key
	path string
}{
	{"component servicing", registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\Windows\CurrentVersion\Component Based Servicing\RebootPending`},
	{"windows update", registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\Windows\CurrentVersion\WindowsUpdate\Auto Update\RebootRequired`},
}

// CheckPendingReboot reports whether the system has a restart outstanding,
// and which indicators fired. Installing over a pending reboot is a common
// cause of msiexec 1618/3010 surprises.
func CheckPendingReboot() (bool, []string) {
	var indicators []string

	for _, probe := range pendingRebootProbes {
		k, err := registry.OpenKey(probe.root, probe.path, registry.QUERY_VALUE)
		if err == nil {
			k.Close()
			indicators = append(indicators, probe.name)
		}
	}

	if hasPendingFileRenames() {
		indicators = append(indicators, "pending file renames")
	}

	return len(indicators) > 0, indicators
}

func hasPendingFileRenames() bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Control\Session Manager`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	values, _, err := k.GetStringsValue("PendingFileRenameOperations")
	if err != nil {
		return false
	}
	return len(values) > 0
}

// CheckApplicability verifies the definition applies to this system:
// supported architecture, OS version bounds, and any custom conditions.
// Returns a NotApplicableError listing every failed check.
func CheckApplicability(info *deployinfo.DeployInfo, facts predicates.Facts) error {
	var reasons []string

	if len(info.SupportedArch) > 0 {
		sysArch := predicates.NormalizeArch(facts.Architecture)
		supported := false
		for _, arch := range info.SupportedArch {
			if predicates.NormalizeArch(arch) == sysArch {
				supported = true
				break
			}
		}
		if !supported {
			reasons = append(reasons, fmt.Sprintf("architecture %s not in supported set %v",
				sysArch, info.SupportedArch))
		}
	}

	if info.MinOSVersion != "" || info.MaxOSVersion != "" {
		osVer, err := version.NewVersion(facts.OSVersion)
		if err != nil {
			// An unparseable OS version fact should not block the deployment.
			logging.Warn("Skipping OS version bounds check",
				"osVersion", facts.OSVersion,
				"error", err,
			)
		} else {
			if info.MinOSVersion != "" {
				if minVer, err := version.NewVersion(info.MinOSVersion); err != nil {
					logging.Warn("Unable to parse minimum OS version", "value", info.MinOSVersion, "error", err)
				} else if osVer.LessThan(minVer) {
					reasons = append(reasons, fmt.Sprintf("OS version %s is below minimum %s",
						facts.OSVersion, info.MinOSVersion))
				}
			}
			if info.MaxOSVersion != "" {
				if maxVer, err := version.NewVersion(info.MaxOSVersion); err != nil {
					logging.Warn("Unable to parse maximum OS version", "value", info.MaxOSVersion, "error", err)
				} else if osVer.GreaterThan(maxVer) {
					reasons = append(reasons, fmt.Sprintf("OS version %s is above maximum %s",
						facts.OSVersion, info.MaxOSVersion))
				}
			}
		}
	}

	factMap := facts.Map()
	for _, cond := range info.Conditions {
		ok, err := predicates.Evaluate(cond, factMap)
		if err != nil {
			// A broken condition blocks rather than silently passing.
			reasons = append(reasons, fmt.Sprintf("condition %s %s %q: %v",
				cond.Key, cond.Operator, cond.Value, err))
			continue
		}
		if !ok {
			reasons = append(reasons, fmt.Sprintf("condition not met: %s %s %q (actual %q)",
				cond.Key, cond.Operator, cond.Value, factMap[cond.Key]))
		}
	}

	if len(reasons) > 0 {
		return &NotApplicableError{Reasons: reasons}
	}
	return nil
}
