// Package deployinfo defines the deployment definition format: one YAML
// document per application describing its metadata and how to install,
// uninstall, and verify it.
package deployinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/appdeploy/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Installer types understood by the install engine.
const (
	TypeMSI  = "msi"
	TypeEXE  = "exe"
	TypeCopy = "copy"
)

// Shortcut location roots.
const (
	LocationCommonPrograms = "common_programs"
	LocationCommonDesktop  = "common_desktop"
	LocationCommonStartup  = "common_startup"
)

// DeployInfo is one application's deployment definition.
type DeployInfo struct {
	Name        string              `yaml:"name"`
	DisplayName string              `yaml:"display_name,omitempty"`
	Version     string              `yaml:"version"`
	Developer   string              `yaml:"developer,omitempty"`
	Category    string              `yaml:"category,omitempty"`
	Language    string              `yaml:"language,omitempty"`
	Revision    string              `yaml:"revision,omitempty"`
	Description utils.LiteralString `yaml:"description,omitempty"`

	SupportedArch []string    `yaml:"supported_architectures,omitempty"`
	MinOSVersion  string      `yaml:"minimum_os_version,omitempty"` // Minimum Windows version required
	MaxOSVersion  string      `yaml:"maximum_os_version,omitempty"` // Maximum Windows version supported
	Conditions    []Condition `yaml:"conditions,omitempty"`

	Deployment  Deployment      `yaml:"deployment,omitempty"`
	Installer   InstallerItem   `yaml:"installer"`
	Uninstaller UninstallerItem `yaml:"uninstaller,omitempty"`
	Shortcuts   []Shortcut      `yaml:"shortcuts,omitempty"`
	Scripts     Scripts         `yaml:"scripts,omitempty"`

	Definition DefinitionMeta `yaml:"definition,omitempty"`

	// Runtime field - not persisted to YAML
	SourcePath string `yaml:"-"` // Absolute path of the loaded definition file
}

// DefinitionMeta records provenance of the definition file itself. The
// schema version is single-quoted on output so YAML consumers never read
// "1.0" back as a float.
type DefinitionMeta struct {
	Version utils.SingleQuotedString `yaml:"version,omitempty"`
	Date    string                   `yaml:"date,omitempty"`
	Author  string                   `yaml:"author,omitempty"`
}

// Deployment holds the pre-install policy for a deployment run.
type Deployment struct {
	CloseApps               []string `yaml:"close_apps,omitempty"`
	CloseAppsTimeoutSeconds int      `yaml:"close_apps_timeout_seconds,omitempty"`
	ForceCloseApps          bool     `yaml:"force_close_apps,omitempty"`
	CheckDiskSpaceMB        int      `yaml:"check_disk_space_mb,omitempty"`
	AllowRebootPassThru     bool     `yaml:"allow_reboot_passthru,omitempty"`
}

// InstallerItem holds information about how to install the application.
type InstallerItem struct {
	Type            string   `yaml:"type"`
	Location        string   `yaml:"location,omitempty"`
	Hash            string   `yaml:"hash,omitempty"`
	Size            int64    `yaml:"size,omitempty"`
	Arguments       []string `yaml:"arguments,omitempty"`
	Transforms      []string `yaml:"transforms,omitempty"`
	ProductCode     string   `yaml:"product_code,omitempty"`
	Destination     string   `yaml:"destination,omitempty"`
	RegisterARP     bool     `yaml:"register_arp,omitempty"`
	EstimatedSizeKB int      `yaml:"estimated_size_kb,omitempty"`
}

// UninstallerItem holds information about how to uninstall the application.
// An empty Type inherits the installer's type.
type UninstallerItem struct {
	Type        string   `yaml:"type,omitempty"`
	Location    string   `yaml:"location,omitempty"`
	Arguments   []string `yaml:"arguments,omitempty"`
	ProductCode string   `yaml:"product_code,omitempty"`
	Paths       []string `yaml:"paths,omitempty"`
}

// Shortcut describes one .lnk the deployment places or removes.
type Shortcut struct {
	Name         string `yaml:"name"`
	Target       string `yaml:"target"`
	Arguments    string `yaml:"arguments,omitempty"`
	WorkingDir   string `yaml:"working_dir,omitempty"`
	IconLocation string `yaml:"icon_location,omitempty"`
	Location     string `yaml:"location,omitempty"` // common_programs, common_desktop, common_startup
	Folder       string `yaml:"folder,omitempty"`   // Subfolder under the location root
}

// Scripts holds the PowerShell hooks run around each phase.
type Scripts struct {
	PreInstall    utils.LiteralString `yaml:"preinstall,omitempty"`
	PostInstall   utils.LiteralString `yaml:"postinstall,omitempty"`
	PreUninstall  utils.LiteralString `yaml:"preuninstall,omitempty"`
	PostUninstall utils.LiteralString `yaml:"postuninstall,omitempty"`
}

// Condition gates a deployment on a system fact.
type Condition struct {
	Key      string `yaml:"key"`
	Operator string `yaml:"operator"` // is, is_not, like
	Value    string `yaml:"value"`
}

// Load reads and validates a deployment definition.
func Load(path string) (*DeployInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %s: %w", path, err)
	}

	var info DeployInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse definition %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info.SourcePath = abs

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition %s: %w", path, err)
	}

	return &info, nil
}

// Validate checks the definition for the mistakes that otherwise surface
// halfway through a deployment.
func (d *DeployInfo) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("version is required")
	}

	switch d.Installer.Type {
	case TypeMSI:
		if d.Installer.Location == "" && d.Installer.ProductCode == "" {
			return fmt.Errorf("msi installer requires location or product_code")
		}
	case TypeEXE:
		if d.Installer.Location == "" {
			return fmt.Errorf("exe installer requires location")
		}
	case TypeCopy:
		if d.Installer.Location == "" {
			return fmt.Errorf("copy installer requires location")
		}
		if d.Installer.Destination == "" {
			return fmt.Errorf("copy installer requires destination")
		}
	case "":
		return fmt.Errorf("installer type is required")
	default:
		return fmt.Errorf("unknown installer type %q", d.Installer.Type)
	}

	switch d.Uninstaller.Type {
	case "", TypeMSI, TypeEXE, TypeCopy:
	default:
		return fmt.Errorf("unknown uninstaller type %q", d.Uninstaller.Type)
	}

	for i, sc := range d.Shortcuts {
		if strings.TrimSpace(sc.Name) == "" {
			return fmt.Errorf("shortcut %d: name is required", i)
		}
		if strings.TrimSpace(sc.Target) == "" {
			return fmt.Errorf("shortcut %q: target is required", sc.Name)
		}
		switch sc.Location {
		case "", LocationCommonPrograms, LocationCommonDesktop, LocationCommonStartup:
		default:
			return fmt.Errorf("shortcut %q: unknown location %q", sc.Name, sc.Location)
		}
	}

	for i, cond := range d.Conditions {
		switch cond.Operator {
		case "is", "is_not", "like":
		default:
			return fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
		if strings.TrimSpace(cond.Key) == "" {
			return fmt.Errorf("condition %d: key is required", i)
		}
	}

	if d.Deployment.CloseAppsTimeoutSeconds < 0 {
		return fmt.Errorf("close_apps_timeout_seconds must not be negative")
	}
	if d.Deployment.CheckDiskSpaceMB < 0 {
		return fmt.Errorf("check_disk_space_mb must not be negative")
	}

	return nil
}

// UninstallType returns the effective uninstaller type.
func (d *DeployInfo) UninstallType() string {
	if d.Uninstaller.Type != "" {
		return d.Uninstaller.Type
	}
	return d.Installer.Type
}

// UninstallProductCode returns the product code to remove, preferring an
// explicit uninstaller entry over the installer's.
func (d *DeployInfo) UninstallProductCode() string {
	if d.Uninstaller.ProductCode != "" {
		return d.Uninstaller.ProductCode
	}
	return d.Installer.ProductCode
}

// Title returns the human-facing deployment title, vendor first.
func (d *DeployInfo) Title() string {
	name := d.DisplayName
	if name == "" {
		name = d.Name
	}
	parts := make([]string, 0, 3)
	if d.Developer != "" {
		parts = append(parts, d.Developer)
	}
	parts = append(parts, name)
	if d.Version != "" {
		parts = append(parts, d.Version)
	}
	return strings.Join(parts, " ")
}

// ResolvePath makes a definition-relative path absolute. Environment
// references like %ProgramFiles% are expanded first; absolute paths are
// returned unchanged.
func (d *DeployInfo) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	expanded := utils.ExpandWindowsEnv(p)
	if filepath.IsAbs(expanded) {
		return expanded
	}
	base := filepath.Dir(d.SourcePath)
	return filepath.Join(base, expanded)
}

// SplitNameAndVersion splits an item name that may contain a version suffix.
// It handles formats like "itemname-1.0.0" or "itemname--1.0.0"
// Returns the name and version separately.
func SplitNameAndVersion(nameWithVersion string) (string, string) {
	// Handle the double dash format first (itemname--version)
	if strings.Contains(nameWithVersion, "--") {
		parts := strings.SplitN(nameWithVersion, "--", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		}
	}

	// Handle the single dash format (itemname-version)
	// Item names may themselves contain dashes, so only split when the
	// last segment looks like a version.
	if strings.Contains(nameWithVersion, "-") {
		parts := strings.Split(nameWithVersion, "-")
		if len(parts) >= 2 {
			lastPart := parts[len(parts)-1]
			if strings.ContainsAny(lastPart, "0123456789") &&
				(strings.Contains(lastPart, ".") || strings.Contains(lastPart, "_")) {
				name := strings.Join(parts[:len(parts)-1], "-")
				return strings.TrimSpace(name), strings.TrimSpace(lastPart)
			}
		}
	}

	return strings.TrimSpace(nameWithVersion), ""
}
