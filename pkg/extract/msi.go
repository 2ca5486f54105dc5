// pkg/extract/msi.go - functions for extracting metadata from MSI files.

package extract

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// MsiProperties holds the Property-table values a deployment definition
// cares about.
type MsiProperties struct {
	ProductName    string
	ProductVersion string
	Manufacturer   string
	Comments       string
	ProductCode    string
	UpgradeCode    string
}

// execCommand is abstracted for testing.
var execCommand = exec.Command

// MsiMetadata reads the Property table of an MSI through the Windows
// Installer COM object. Uses Windows PowerShell rather than pwsh so it
// works on hosts without PowerShell 7.
func MsiMetadata(msiPath string) (MsiProperties, error) {
	if runtime.GOOS != "windows" {
		return MsiProperties{}, fmt.Errorf("msi metadata extraction requires windows")
	}

	// Single-quoted PowerShell string; embedded quotes double up.
	escaped := strings.ReplaceAll(msiPath, "'", "''")
	psCommand := fmt.Sprintf(`
$msi = '%s'
$WindowsInstaller = New-Object -ComObject WindowsInstaller.Installer
$db = $WindowsInstaller.OpenDatabase($msi,0)
$view = $db.OpenView('SELECT * FROM Property')
$view.Execute()

$pairs = @{}
while($rec = $view.Fetch()) {
    $pairs[$rec.StringData(1)] = $rec.StringData(2)
}
[PSCustomObject]@{
  ProductName    = $pairs["ProductName"]
  ProductVersion = $pairs["ProductVersion"]
  Manufacturer   = $pairs["Manufacturer"]
  Comments       = $pairs["Comments"]
  ProductCode    = $pairs["ProductCode"]
  UpgradeCode    = $pairs["UpgradeCode"]
} | ConvertTo-Json -Compress
`, escaped)

	out, err := execCommand("powershell", "-NoProfile", "-NonInteractive", "-Command", psCommand).Output()
	if err != nil {
		return MsiProperties{}, fmt.Errorf("failed to read MSI properties from %s: %w", msiPath, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(out, &raw); err != nil {
		return MsiProperties{}, fmt.Errorf("failed to parse MSI properties for %s: %w", msiPath, err)
	}

	props := MsiProperties{
		ProductName:    strings.TrimSpace(raw["ProductName"]),
		ProductVersion: strings.TrimSpace(raw["ProductVersion"]),
		Manufacturer:   strings.TrimSpace(raw["Manufacturer"]),
		Comments:       strings.TrimSpace(raw["Comments"]),
		ProductCode:    strings.TrimSpace(raw["ProductCode"]),
		UpgradeCode:    strings.TrimSpace(raw["UpgradeCode"]),
	}
	if props.ProductName == "" {
		return props, fmt.Errorf("MSI %s has no ProductName property", msiPath)
	}
	return props, nil
}
