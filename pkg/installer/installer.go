// pkg/installer/installer.go - install and uninstall engines.
//
// Three engines cover the definition types: msiexec for MSI packages,
// direct execution for EXE installers, and a file-copy engine for
// applications that ship without one. Engines hand back the raw exit
// code; the session decides what it means for the process exit.

package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/retry"
	"github.com/windowsadmins/appdeploy/pkg/utils"
)

// Windows Installer exit codes with meaning beyond pass/fail.
const (
	ExitSuccess           = 0
	ExitUserCancel        = 1602
	ExitFatal             = 1603
	ExitUnknownProduct    = 1605
	ExitInstallerBusy     = 1618
	ExitPackageOpenFailed = 1619
	ExitRebootInitiated   = 1641
	ExitRebootRequired    = 3010
)

var commandMsi = filepath.Join(os.Getenv("WINDIR"), "system32", "msiexec.exe")

// execCommandContext is abstracted for testing.
var execCommandContext = exec.CommandContext

// Result carries the outcome of an install or uninstall action.
type Result struct {
	ExitCode       int
	RebootRequired bool
	Output         string
	Files          []string // files placed by the copy engine
}

// fileExists checks if a path exists on the filesystem.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Install runs the definition's installer. The Result is non-nil whenever
// an engine actually ran, even when it failed, so callers can inspect the
// raw exit code.
func Install(info *deployinfo.DeployInfo, cfg *config.Configuration, logDir string) (*Result, error) {
	switch info.Installer.Type {
	case deployinfo.TypeMSI:
		return runMSIInstall(info, cfg, logDir)
	case deployinfo.TypeEXE:
		return runEXEInstall(info, cfg)
	case deployinfo.TypeCopy:
		return runCopyInstall(info)
	default:
		return nil, fmt.Errorf("unknown installer type: %s", info.Installer.Type)
	}
}

// Uninstall removes the application using the definition's uninstaller,
// falling back to the installer's type when none is declared. A receipt
// from a previous install, when present, tells the copy engine exactly
// which files to take back out.
func Uninstall(info *deployinfo.DeployInfo, cfg *config.Configuration, logDir string, receipt *Receipt) (*Result, error) {
	switch info.UninstallType() {
	case deployinfo.TypeMSI:
		return runMSIUninstall(info, cfg, logDir)
	case deployinfo.TypeEXE:
		return runEXEUninstall(info, cfg)
	case deployinfo.TypeCopy:
		return runCopyUninstall(info, receipt)
	default:
		return nil, fmt.Errorf("unknown uninstaller type: %s", info.UninstallType())
	}
}

// resolvePayload locates an installer payload on disk and verifies its
// hash when the definition pins one.
func resolvePayload(info *deployinfo.DeployInfo, location, hash string) (string, error) {
	path := info.ResolvePath(location)
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("installer payload missing: %s", path)
	}
	if hash != "" {
		if fi.IsDir() {
			return "", fmt.Errorf("hash verification requires a file payload: %s", path)
		}
		if err := utils.VerifyFileHash(path, hash); err != nil {
			return "", err
		}
	}
	return path, nil
}

func runMSIInstall(info *deployinfo.DeployInfo, cfg *config.Configuration, logDir string) (*Result, error) {
	if info.Installer.Location == "" {
		return nil, fmt.Errorf("msi install requires an installer location")
	}
	msiPath, err := resolvePayload(info, info.Installer.Location, info.Installer.Hash)
	if err != nil {
		return nil, err
	}

	args := buildMSIInstallArgs(info, cfg, msiPath, logDir)
	logging.Info("Installing MSI package", "name", info.Name, "msi", msiPath)
	logging.Debug("msiexec arguments", "args", strings.Join(args, " "))

	result, err := runMSI(args, cfg)
	if err != nil {
		return result, err
	}

	switch result.ExitCode {
	case ExitSuccess:
	case ExitRebootRequired, ExitRebootInitiated:
		result.RebootRequired = true
	default:
		return result, fmt.Errorf("msiexec exited with code %d: %s",
			result.ExitCode, msiExitText(result.ExitCode))
	}

	logging.Debug("MSI install output", "output", result.Output)
	logging.Info("MSI install completed", "name", info.Name, "exitCode", result.ExitCode)
	return result, nil
}

func runMSIUninstall(info *deployinfo.DeployInfo, cfg *config.Configuration, logDir string) (*Result, error) {
	target, err := msiUninstallTarget(info)
	if err != nil {
		return nil, err
	}

	args := buildMSIUninstallArgs(info, target, logDir)
	logging.Info("Uninstalling MSI package", "name", info.Name, "target", target)
	logging.Debug("msiexec arguments", "args", strings.Join(args, " "))

	result, err := runMSI(args, cfg)
	if err != nil {
		return result, err
	}

	switch result.ExitCode {
	case ExitSuccess:
	case ExitRebootRequired, ExitRebootInitiated:
		result.RebootRequired = true
	case ExitUnknownProduct:
		// Already absent. Uninstall stays idempotent.
		logging.Info("Product not installed, nothing to remove", "name", info.Name)
		result.ExitCode = ExitSuccess
	default:
		return result, fmt.Errorf("msiexec exited with code %d: %s",
			result.ExitCode, msiExitText(result.ExitCode))
	}

	logging.Debug("MSI uninstall output", "output", result.Output)
	logging.Info("MSI uninstall completed", "name", info.Name, "exitCode", result.ExitCode)
	return result, nil
}

// msiUninstallTarget picks what /x operates on: a product code when the
// definition carries one, otherwise the original package file.
func msiUninstallTarget(info *deployinfo.DeployInfo) (string, error) {
	if code := info.UninstallProductCode(); code != "" {
		return code, nil
	}

	location := info.Uninstaller.Location
	if location == "" {
		location = info.Installer.Location
	}
	if location == "" {
		return "", fmt.Errorf("msi uninstall requires a product code or package location")
	}

	path := info.ResolvePath(location)
	if !fileExists(path) {
		return "", fmt.Errorf("uninstall package does not exist: %s", path)
	}
	return path, nil
}

func buildMSIInstallArgs(info *deployinfo.DeployInfo, cfg *config.Configuration, msiPath, logDir string) []string {
	args := []string{"/i", msiPath}
	args = append(args, cfg.DefaultMSIArguments...)
	args = append(args, info.Installer.Arguments...)

	if len(info.Installer.Transforms) > 0 {
		resolved := make([]string, 0, len(info.Installer.Transforms))
		for _, t := range info.Installer.Transforms {
			resolved = append(resolved, info.ResolvePath(t))
		}
		args = append(args, "TRANSFORMS="+strings.Join(resolved, ";"))
	}

	if logDir != "" {
		args = append(args, "/L*V", filepath.Join(logDir, info.Name+"-install.msi.log"))
	}
	return args
}

func buildMSIUninstallArgs(info *deployinfo.DeployInfo, target, logDir string) []string {
	args := []string{"/x", target, "/qn", "/norestart"}
	args = append(args, info.Uninstaller.Arguments...)

	if logDir != "" {
		args = append(args, "/L*V", filepath.Join(logDir, info.Name+"-uninstall.msi.log"))
	}
	return args
}

// runMSI executes msiexec, retrying while another installation holds the
// Windows Installer mutex (exit 1618).
func runMSI(args []string, cfg *config.Configuration) (*Result, error) {
	if err := waitForInstallerIdle(2 * time.Minute); err != nil {
		logging.Warn("Windows Installer still busy, proceeding anyway", "error", err)
	}

	timeout := installerTimeout(cfg)
	var result *Result

	err := retry.Retry(retry.RetryConfig{
		MaxRetries:      3,
		InitialInterval: 15 * time.Second,
		Multiplier:      2.0,
	}, func() error {
		output, code, runErr := runCommand(commandMsi, args, timeout)
		if runErr != nil {
			return &retry.NonRetryableError{Err: runErr}
		}
		result = &Result{ExitCode: code, Output: output}
		if code == ExitInstallerBusy {
			return fmt.Errorf("another installation is in progress (exit %d)", code)
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func runEXEInstall(info *deployinfo.DeployInfo, cfg *config.Configuration) (*Result, error) {
	exePath, err := resolvePayload(info, info.Installer.Location, info.Installer.Hash)
	if err != nil {
		return nil, err
	}

	args := info.Installer.Arguments
	if len(args) == 0 {
		// Silent switch most Inno/NSIS installers accept.
		args = []string{"/S"}
	}

	logging.Info("Running EXE installer", "name", info.Name, "exe", exePath)
	output, code, runErr := runCommand(exePath, args, installerTimeout(cfg))
	if runErr != nil {
		return nil, runErr
	}

	result := &Result{ExitCode: code, Output: output}
	if code == ExitRebootRequired {
		result.RebootRequired = true
		logging.Info("EXE install completed, reboot required", "name", info.Name)
		return result, nil
	}
	if code != 0 {
		return result, fmt.Errorf("installer %s exited with code %d", filepath.Base(exePath), code)
	}

	logging.Debug("EXE install output", "output", output)
	logging.Info("EXE install completed", "name", info.Name)
	return result, nil
}

func runEXEUninstall(info *deployinfo.DeployInfo, cfg *config.Configuration) (*Result, error) {
	if info.Uninstaller.Location == "" {
		return nil, fmt.Errorf("exe uninstall requires an uninstaller location")
	}

	// Uninstallers usually live under the installed tree, so expand
	// environment references instead of resolving against the definition.
	exePath := utils.ExpandWindowsEnv(info.Uninstaller.Location)
	if !fileExists(exePath) {
		return nil, fmt.Errorf("uninstaller does not exist: %s", exePath)
	}

	logging.Info("Running EXE uninstaller", "name", info.Name, "exe", exePath)
	output, code, runErr := runCommand(exePath, info.Uninstaller.Arguments, installerTimeout(cfg))
	if runErr != nil {
		return nil, runErr
	}

	result := &Result{ExitCode: code, Output: output}
	if code == ExitRebootRequired {
		result.RebootRequired = true
		return result, nil
	}
	if code != 0 {
		return result, fmt.Errorf("uninstaller %s exited with code %d", filepath.Base(exePath), code)
	}

	logging.Debug("EXE uninstall output", "output", output)
	logging.Info("EXE uninstall completed", "name", info.Name)
	return result, nil
}

// runCommand executes an installer process with a hidden window and a
// hard timeout. The error is non-nil only when the process could not run
// or ran out of time; a non-zero exit comes back as the int.
func runCommand(command string, args []string, timeout time.Duration) (string, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := execCommandContext(ctx, command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}

	output, err := cmd.CombinedOutput()
	outputStr := strings.TrimSpace(string(output))

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			if cmd.Process != nil {
				terminateProcessTree(cmd.Process.Pid)
			}
			return outputStr, -1, fmt.Errorf("installer timed out after %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return outputStr, exitErr.ExitCode(), nil
		}
		return outputStr, -1, err
	}
	return outputStr, 0, nil
}

func installerTimeout(cfg *config.Configuration) time.Duration {
	minutes := cfg.InstallerTimeoutMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

// msiExitText gives the short description for the msiexec exit codes
// operators actually see.
func msiExitText(code int) string {
	switch code {
	case ExitUserCancel:
		return "user cancelled installation"
	case ExitFatal:
		return "fatal error during installation"
	case ExitUnknownProduct:
		return "product is not installed"
	case ExitInstallerBusy:
		return "another installation is already in progress"
	case ExitPackageOpenFailed:
		return "installation package could not be opened"
	default:
		return "see the Windows Installer log"
	}
}
