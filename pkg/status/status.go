// pkg/status/status.go - installed-application detection.
//
// Detection is registry-driven: the receipts this tool writes itself,
// the per-product MSI entries, and the uninstall keys feeding
// Add/Remove Programs.

package status

import (
	"fmt"
	"strings"

	version "github.com/hashicorp/go-version"
	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/installer"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"golang.org/x/sys/windows/registry"
)

// RegistryApplication contains attributes for an installed application.
type RegistryApplication struct {
	Key       string
	Name      string
	Version   string
	Publisher string
	Uninstall string
}

// Detection reports what the system knows about an application.
type Detection struct {
	Installed bool
	Version   string
	Source    string // receipt, product_code, or registry
}

// registryItems caches the enumerated uninstall keys for one run.
var registryItems map[string]RegistryApplication

// Detect looks for an installed copy of the application: our own receipt
// first, then the MSI product entry, then display-name matches across the
// uninstall keys.
func Detect(info *deployinfo.DeployInfo, cfg *config.Configuration) Detection {
	if receipt, err := installer.ReadReceipt(cfg, info.Name); err == nil && receipt != nil {
		return Detection{Installed: true, Version: receipt.Version, Source: "receipt"}
	}

	if code := info.UninstallProductCode(); code != "" {
		if v := findMsiVersion(code); v != "" {
			return Detection{Installed: true, Version: v, Source: "product_code"}
		}
	}

	apps, err := InstalledApps()
	if err != nil {
		logging.Warn("Unable to enumerate installed applications", "error", err)
		return Detection{}
	}

	displayName := info.DisplayName
	if displayName == "" {
		displayName = info.Name
	}

	// Exact match first, then substring.
	for _, app := range apps {
		if strings.EqualFold(app.Name, displayName) || strings.EqualFold(app.Name, info.Name) {
			return Detection{Installed: true, Version: app.Version, Source: "registry"}
		}
	}
	for _, app := range apps {
		if containsFold(app.Name, displayName) {
			logging.Debug("Partial registry match",
				"definition", displayName,
				"registryName", app.Name,
			)
			return Detection{Installed: true, Version: app.Version, Source: "registry"}
		}
	}

	return Detection{}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// IsOlderVersion reports whether local is strictly older than remote.
// Unparseable versions compare as up to date so a bad string never forces
// an install loop.
func IsOlderVersion(local, remote string) bool {
	vLocal, errLocal := version.NewVersion(local)
	vRemote, errRemote := version.NewVersion(remote)

	if errLocal != nil || errRemote != nil {
		logging.Debug("Version parse error, treating as up to date",
			"local", local,
			"remote", remote,
			"errLocal", errLocal,
			"errRemote", errRemote,
		)
		return false
	}
	return vLocal.LessThan(vRemote)
}

// InstallNeeded decides whether an install should proceed given what is
// already on the system.
func InstallNeeded(det Detection, info *deployinfo.DeployInfo) bool {
	if !det.Installed {
		return true
	}
	if IsOlderVersion(det.Version, info.Version) {
		return true
	}
	if IsOlderVersion(info.Version, det.Version) {
		logging.Warn("Installed version is newer than the definition, skipping",
			"installed", det.Version,
			"definition", info.Version,
		)
	}
	return false
}

// findMsiVersion retrieves the DisplayVersion for an MSI product code.
func findMsiVersion(productCode string) string {
	regPath := fmt.Sprintf(`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\%s`, productCode)
	v, err := getRegistryValue(regPath, "DisplayVersion")
	if err != nil {
		// 32-bit products register under the WOW key.
		regPath = fmt.Sprintf(`SOFTWARE\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\%s`, productCode)
		v, err = getRegistryValue(regPath, "DisplayVersion")
		if err != nil {
			return ""
		}
	}
	return v
}

// getRegistryValue reads a string value from the local-machine registry.
func getRegistryValue(keyPath, valueName string) (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, keyPath, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer k.Close()

	val, _, err := k.GetStringValue(valueName)
	if err != nil {
		return "", err
	}
	return val, nil
}

// InstalledApps enumerates the uninstall keys once per run and caches the
// result.
func InstalledApps() (map[string]RegistryApplication, error) {
	if len(registryItems) > 0 {
		return registryItems, nil
	}

	apps := make(map[string]RegistryApplication)
	roots := []struct {
		root registry.Key
		path string
	}{
		{registry.LOCAL_MACHINE, `Software\Microsoft\Windows\CurrentVersion\Uninstall`},
		{registry.LOCAL_MACHINE, `Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall`},
		{registry.CURRENT_USER, `Software\Microsoft\Windows\CurrentVersion\Uninstall`},
	}
	for _, r := range roots {
		if err := collectUninstallKeys(r.root, r.path, apps); err != nil {
			logging.Debug("Unable to read uninstall keys", "path", r.path, "error", err)
		}
	}

	registryItems = apps
	return apps, nil
}

func collectUninstallKeys(root registry.Key, rPath string, apps map[string]RegistryApplication) error {
	key, err := registry.OpenKey(root, rPath, registry.READ)
	if err != nil {
		return err
	}
	defer key.Close()

	subKeys, err := key.ReadSubKeyNames(0)
	if err != nil {
		return err
	}
	for _, subKey := range subKeys {
		fullPath := rPath + `\` + subKey
		app, ok := readUninstallEntry(root, fullPath)
		if !ok {
			continue
		}
		apps[app.Name] = app
	}
	return nil
}

func readUninstallEntry(root registry.Key, fullPath string) (RegistryApplication, bool) {
	k, err := registry.OpenKey(root, fullPath, registry.READ)
	if err != nil {
		return RegistryApplication{}, false
	}
	defer k.Close()

	app := RegistryApplication{Key: fullPath}
	if name, _, err := k.GetStringValue("DisplayName"); err == nil {
		app.Name = name
	}
	if v, _, err := k.GetStringValue("DisplayVersion"); err == nil {
		app.Version = v
	}
	if p, _, err := k.GetStringValue("Publisher"); err == nil {
		app.Publisher = p
	}
	if u, _, err := k.GetStringValue("UninstallString"); err == nil {
		app.Uninstall = u
	}

	// Entries without the basics are component junk, skip them.
	if app.Name == "" || app.Version == "" {
		return RegistryApplication{}, false
	}
	return app, true
}
