// pkg/status/arp.go - Add/Remove Programs entries for copy installs.
//
// MSI and EXE installers register themselves. The copy engine does not,
// so we write the uninstall key ourselves and point its UninstallString
// back at this tool.

package status

import (
	"fmt"
	"os"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/utils"
	"golang.org/x/sys/windows/registry"
)

const uninstallRoot = `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`

// RegisterARP writes the Add/Remove Programs entry for a copy-installed
// application.
func RegisterARP(info *deployinfo.DeployInfo) error {
	keyPath := uninstallRoot + `\` + info.Name
	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, keyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to create uninstall key %s: %w", keyPath, err)
	}
	defer k.Close()

	displayName := info.DisplayName
	if displayName == "" {
		displayName = info.Name
	}

	values := map[string]string{
		"DisplayName":     displayName,
		"DisplayVersion":  info.Version,
		"Publisher":       info.Developer,
		"InstallDate":     time.Now().Format("20060102"),
		"InstallLocation": utils.ExpandWindowsEnv(info.Installer.Destination),
	}
	if exe, err := os.Executable(); err == nil {
		values["UninstallString"] = fmt.Sprintf(`"%s" --type uninstall "%s"`, exe, info.SourcePath)
		values["QuietUninstallString"] = fmt.Sprintf(`"%s" --type uninstall --mode silent "%s"`, exe, info.SourcePath)
	}
	if icon := displayIcon(info); icon != "" {
		values["DisplayIcon"] = icon
	}
	for name, value := range values {
		if value == "" {
			continue
		}
		if err := k.SetStringValue(name, value); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", name, keyPath, err)
		}
	}

	dwords := map[string]uint32{
		"NoModify": 1,
		"NoRepair": 1,
	}
	if kb := estimatedSizeKB(info); kb > 0 {
		dwords["EstimatedSize"] = kb
	}
	for name, value := range dwords {
		if err := k.SetDWordValue(name, value); err != nil {
			return fmt.Errorf("failed to set %s on %s: %w", name, keyPath, err)
		}
	}

	logging.Info("Registered Add/Remove Programs entry", "name", displayName, "key", keyPath)
	return nil
}

// displayIcon picks the ARP icon from the first shortcut that names one.
func displayIcon(info *deployinfo.DeployInfo) string {
	for _, sc := range info.Shortcuts {
		if sc.IconLocation != "" {
			return utils.ExpandWindowsEnv(sc.IconLocation)
		}
	}
	return ""
}

func estimatedSizeKB(info *deployinfo.DeployInfo) uint32 {
	if info.Installer.EstimatedSizeKB > 0 {
		return uint32(info.Installer.EstimatedSizeKB)
	}
	if info.Installer.Size > 0 {
		return uint32(info.Installer.Size / 1024)
	}
	return 0
}

// UnregisterARP removes the Add/Remove Programs entry. A missing key is
// not an error.
func UnregisterARP(info *deployinfo.DeployInfo) error {
	keyPath := uninstallRoot + `\` + info.Name
	if err := registry.DeleteKey(registry.LOCAL_MACHINE, keyPath); err != nil {
		if err == registry.ErrNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete uninstall key %s: %w", keyPath, err)
	}
	logging.Info("Removed Add/Remove Programs entry", "key", keyPath)
	return nil
}
