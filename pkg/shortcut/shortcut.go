// pkg/shortcut/shortcut.go - placement and removal of .lnk shortcuts.
//
// Shortcuts go under the all-users known folders so every account sees
// them. Creation goes through the WScript.Shell COM object via
// PowerShell; Go has no native .lnk writer.

package shortcut

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/utils"
	"golang.org/x/sys/windows"
)

// execCommand is abstracted for testing.
var execCommand = exec.Command

// knownFolder is abstracted for testing.
var knownFolder = windows.KnownFolderPath

// locationRoot resolves a definition location name to its filesystem root.
func locationRoot(location string) (string, error) {
	switch location {
	case deployinfo.LocationCommonDesktop:
		return knownFolder(windows.FOLDERID_PublicDesktop, 0)
	case deployinfo.LocationCommonStartup:
		return knownFolder(windows.FOLDERID_CommonStartup, 0)
	case deployinfo.LocationCommonPrograms, "":
		return knownFolder(windows.FOLDERID_CommonPrograms, 0)
	default:
		return "", fmt.Errorf("unknown shortcut location %q", location)
	}
}

// LinkPath returns where the .lnk for this shortcut belongs.
func LinkPath(sc deployinfo.Shortcut) (string, error) {
	root, err := locationRoot(sc.Location)
	if err != nil {
		return "", err
	}
	dir := root
	if sc.Folder != "" {
		dir = filepath.Join(root, sc.Folder)
	}
	return filepath.Join(dir, sc.Name+".lnk"), nil
}

// Create places one shortcut and returns the .lnk path it wrote.
func Create(sc deployinfo.Shortcut) (string, error) {
	linkPath, err := LinkPath(sc)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create shortcut folder: %w", err)
	}

	target := utils.ExpandWindowsEnv(sc.Target)
	script := buildShortcutScript(linkPath, sc, target)

	out, err := execCommand("powershell", "-NoProfile", "-NonInteractive", "-Command", script).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to create shortcut %s: %w, output: %s",
			linkPath, err, strings.TrimSpace(string(out)))
	}

	logging.Info("Placed shortcut", "name", sc.Name, "link", linkPath, "target", target)
	return linkPath, nil
}

// buildShortcutScript renders the WScript.Shell invocation that writes the
// .lnk. Optional attributes only appear when set so the COM object keeps
// its defaults otherwise.
func buildShortcutScript(linkPath string, sc deployinfo.Shortcut, target string) string {
	var b strings.Builder
	b.WriteString("$WshShell = New-Object -ComObject WScript.Shell\n")
	fmt.Fprintf(&b, "$Shortcut = $WshShell.CreateShortcut(%s)\n", psQuote(linkPath))
	fmt.Fprintf(&b, "$Shortcut.TargetPath = %s\n", psQuote(target))
	if sc.Arguments != "" {
		fmt.Fprintf(&b, "$Shortcut.Arguments = %s\n", psQuote(sc.Arguments))
	}
	if sc.WorkingDir != "" {
		fmt.Fprintf(&b, "$Shortcut.WorkingDirectory = %s\n", psQuote(utils.ExpandWindowsEnv(sc.WorkingDir)))
	}
	if sc.IconLocation != "" {
		fmt.Fprintf(&b, "$Shortcut.IconLocation = %s\n", psQuote(utils.ExpandWindowsEnv(sc.IconLocation)))
	}
	b.WriteString("$Shortcut.Save()")
	return b.String()
}

// psQuote renders a single-quoted PowerShell string literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Remove deletes one shortcut. Missing shortcuts are not an error.
func Remove(sc deployinfo.Shortcut) error {
	linkPath, err := LinkPath(sc)
	if err != nil {
		return err
	}
	return RemoveByPath(linkPath)
}

// RemoveByPath deletes a shortcut by its recorded .lnk path and prunes
// the containing folder when that leaves it empty.
func RemoveByPath(linkPath string) error {
	if err := os.Remove(linkPath); err != nil {
		if os.IsNotExist(err) {
			logging.Debug("Shortcut already absent", "link", linkPath)
			return nil
		}
		return fmt.Errorf("failed to remove shortcut %s: %w", linkPath, err)
	}
	logging.Info("Removed shortcut", "link", linkPath)

	pruneFolder(filepath.Dir(linkPath))
	return nil
}

// pruneFolder removes a shortcut subfolder once it is empty, leaving the
// known-folder roots alone.
func pruneFolder(dir string) {
	roots := []string{
		deployinfo.LocationCommonPrograms,
		deployinfo.LocationCommonDesktop,
		deployinfo.LocationCommonStartup,
	}
	for _, loc := range roots {
		if root, err := locationRoot(loc); err == nil && strings.EqualFold(root, dir) {
			return
		}
	}
	if err := os.Remove(dir); err == nil {
		logging.Debug("Pruned empty shortcut folder", "folder", dir)
	}
}
