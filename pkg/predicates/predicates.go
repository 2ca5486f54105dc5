// pkg/predicates/predicates.go - system facts and condition evaluation.
//
// Deployment definitions can gate themselves on facts like hostname,
// OS version, architecture, or chassis type. This package gathers those
// facts and evaluates the definition's conditions against them.

package predicates

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows/registry"
)

// Facts holds the system information conditions are evaluated against.
type Facts struct {
	Hostname     string    `json:"hostname"`
	OSVersion    string    `json:"os_version"`
	OSBuild      string    `json:"os_build"`
	Architecture string    `json:"architecture"`
	Date         time.Time `json:"date"`
	Domain       string    `json:"domain,omitempty"`
	Username     string    `json:"username,omitempty"`
	MachineType  string    `json:"machine_type,omitempty"`
	MachineModel string    `json:"machine_model,omitempty"`
	MemoryMB     uint64    `json:"memory_mb,omitempty"`
}

// WMI structures for querying system information.
type Win32_SystemEnclosure struct {
	ChassisTypes []uint16 `wmi:"ChassisTypes"`
}

type Win32_ComputerSystem struct {
	Domain              string `wmi:"Domain"`
	PartOfDomain        bool   `wmi:"PartOfDomain"`
	Model               string `wmi:"Model"`
	Manufacturer        string `wmi:"Manufacturer"`
	TotalPhysicalMemory uint64 `wmi:"TotalPhysicalMemory"`
}

// wmiQuery is abstracted for testing.
var wmiQuery = wmi.Query

// Gather collects system facts. Individual probes that fail leave their
// fact as "unknown" rather than aborting: a deployment should not stop
// because WMI is momentarily unhappy.
func Gather() Facts {
	f := Facts{
		Architecture: SystemArchitecture(),
		Date:         time.Now(),
		MachineType:  machineType(),
	}
	f.MachineModel, f.MemoryMB = computerSystem()

	if hostname, err := os.Hostname(); err == nil {
		f.Hostname = hostname
	}

	version, build, err := windowsVersion()
	if err != nil {
		logging.Warn("Failed to read Windows version from registry", "error", err)
		f.OSVersion = "unknown"
		f.OSBuild = "unknown"
	} else {
		f.OSVersion = version
		f.OSBuild = build
	}

	if domain, ok := os.LookupEnv("USERDOMAIN"); ok {
		f.Domain = domain
	}
	if username, ok := os.LookupEnv("USERNAME"); ok {
		f.Username = username
	}

	return f
}

// Map flattens the facts into the key space condition keys refer to.
func (f Facts) Map() map[string]string {
	return map[string]string{
		"hostname":      f.Hostname,
		"os_version":    f.OSVersion,
		"os_build":      f.OSBuild,
		"arch":          f.Architecture,
		"architecture":  f.Architecture,
		"date":          f.Date.Format(time.RFC3339),
		"domain":        f.Domain,
		"username":      f.Username,
		"machine_type":  f.MachineType,
		"machine_model": f.MachineModel,
		"memory_mb":     strconv.FormatUint(f.MemoryMB, 10),
	}
}

// Evaluate checks a single condition against the gathered facts.
// Comparisons are case-insensitive; Windows facts usually are.
func Evaluate(cond deployinfo.Condition, facts map[string]string) (bool, error) {
	factValue, ok := facts[cond.Key]
	if !ok {
		return false, fmt.Errorf("unknown fact key %q", cond.Key)
	}

	switch cond.Operator {
	case "is":
		return strings.EqualFold(factValue, cond.Value), nil
	case "is_not":
		return !strings.EqualFold(factValue, cond.Value), nil
	case "like":
		return matchLike(factValue, cond.Value), nil
	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// matchLike performs simple wildcard matching. A "*" matches any run of
// characters; a pattern without wildcards must match the whole value.
func matchLike(value, pattern string) bool {
	value = strings.ToLower(value)
	pattern = strings.ToLower(pattern)

	if !strings.Contains(pattern, "*") {
		return value == pattern
	}

	parts := strings.Split(pattern, "*")
	// Anchor the first and last fragments, float the rest.
	if first := parts[0]; first != "" {
		if !strings.HasPrefix(value, first) {
			return false
		}
		value = value[len(first):]
	}
	if last := parts[len(parts)-1]; last != "" {
		if !strings.HasSuffix(value, last) {
			return false
		}
		value = value[:len(value)-len(last)]
	}
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return true
}

// SystemArchitecture returns a normalized string for the local system arch.
func SystemArchitecture() string {
	return NormalizeArch(runtime.GOARCH)
}

// NormalizeArch maps architecture synonyms onto the names definitions use.
func NormalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64", "x64":
		return "x64"
	case "386", "x86":
		return "x86"
	case "arm64", "aarch64":
		return "arm64"
	default:
		return strings.ToLower(arch)
	}
}

// windowsVersion reads the OS version and build from the CurrentVersion key.
func windowsVersion() (version string, build string, err error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return "", "", fmt.Errorf("failed to open CurrentVersion key: %w", err)
	}
	defer k.Close()

	build, _, buildErr := k.GetStringValue("CurrentBuildNumber")
	if buildErr != nil {
		return "", "", fmt.Errorf("failed to read CurrentBuildNumber: %w", buildErr)
	}

	major, _, majErr := k.GetIntegerValue("CurrentMajorVersionNumber")
	minor, _, minErr := k.GetIntegerValue("CurrentMinorVersionNumber")
	if majErr != nil || minErr != nil {
		// Pre-Windows-10 keys only carry the string form.
		currentVersion, _, cvErr := k.GetStringValue("CurrentVersion")
		if cvErr != nil {
			return "", "", fmt.Errorf("failed to read CurrentVersion: %w", cvErr)
		}
		return fmt.Sprintf("%s.%s", currentVersion, build), build, nil
	}

	return fmt.Sprintf("%d.%d.%s", major, minor, build), build, nil
}

// machineType determines if the machine is a laptop or desktop based on
// chassis type.
func machineType() string {
	var enclosures []Win32_SystemEnclosure

	err := wmiQuery("SELECT ChassisTypes FROM Win32_SystemEnclosure", &enclosures)
	if err != nil {
		logging.Warn("Failed to query system enclosure information", "error", err)
		return "unknown"
	}

	if len(enclosures) == 0 || len(enclosures[0].ChassisTypes) == 0 {
		return "unknown"
	}

	for _, chassisType := range enclosures[0].ChassisTypes {
		switch chassisType {
		case 8, 9, 10, 14, 30, 31, 32:
			// 8=Portable, 9=Laptop, 10=Notebook, 14=Sub Notebook,
			// 30=Tablet, 31=Convertible, 32=Detachable
			return "laptop"
		case 3, 4, 5, 6, 7, 15, 16:
			// 3=Desktop, 4=Low Profile, 5=Pizza Box, 6=Mini Tower,
			// 7=Tower, 15=Space-saving, 16=Lunch Box
			return "desktop"
		}
	}

	return "desktop"
}

// computerSystem determines the computer model, manufacturer, and
// installed physical memory in one query.
func computerSystem() (model string, memoryMB uint64) {
	var systems []Win32_ComputerSystem

	err := wmiQuery("SELECT Model, Manufacturer, TotalPhysicalMemory FROM Win32_ComputerSystem", &systems)
	if err != nil {
		logging.Warn("Failed to query computer system information", "error", err)
		return "unknown", 0
	}

	if len(systems) == 0 {
		return "unknown", 0
	}

	system := systems[0]
	memoryMB = system.TotalPhysicalMemory / (1024 * 1024)
	switch {
	case system.Manufacturer != "" && system.Model != "":
		model = fmt.Sprintf("%s %s", system.Manufacturer, system.Model)
	case system.Model != "":
		model = system.Model
	case system.Manufacturer != "":
		model = system.Manufacturer
	default:
		model = "unknown"
	}
	return model, memoryMB
}
