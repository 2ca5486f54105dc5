// pkg/scripts/scripts.go - PowerShell hooks around deployment phases.
//
// Definitions can carry inline pre/post scripts. Each one is written to a
// temp .ps1 and run under pwsh with execution policy bypassed, its output
// folded into the deployment log line by line.

package scripts

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/windowsadmins/appdeploy/pkg/logging"
)

// execCommand is abstracted for testing.
var execCommand = exec.Command

// Run executes one inline hook script. An empty script is a no-op.
// workDir becomes the script's working directory so relative paths in
// hooks resolve against the definition's files.
func Run(name, script, workDir string) error {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil
	}

	tmpFile, err := os.CreateTemp("", "appdeploy-*.ps1")
	if err != nil {
		return fmt.Errorf("failed to write %s script: %w", name, err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(script); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write %s script: %w", name, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write %s script: %w", name, err)
	}

	logging.Info("Running script", "hook", name)

	cmd := execCommand(
		"pwsh.exe",
		"-NoLogo",
		"-NoProfile",
		"-NonInteractive",
		"-ExecutionPolicy", "Bypass",
		"-File", tmpPath,
	)
	if workDir != "" {
		cmd.Dir = workDir
	}

	outputBytes, err := cmd.CombinedOutput()
	logOutput(name, string(outputBytes))

	if err != nil {
		logging.Error("Script failed", "hook", name, "error", err)
		return fmt.Errorf("%s script failed: %w", name, err)
	}

	logging.Info("Script completed", "hook", name)
	return nil
}

// logOutput folds the script's output into the deployment log line by
// line, stripping BOM and ANSI escapes.
func logOutput(name, output string) {
	for _, line := range strings.Split(output, "\n") {
		txt := strings.TrimSpace(line)
		if txt == "" {
			continue
		}
		txt = strings.TrimPrefix(txt, "\ufeff")
		txt = strings.ReplaceAll(txt, "\x1b[0m", "")
		txt = strings.ReplaceAll(txt, "\x1b[", "")
		logging.Info(txt, "hook", name)
	}
}
