// pkg/config/config.go - configuration settings for AppDeploy.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"
	"gopkg.in/yaml.v3"
)

const ConfigPath = `C:\ProgramData\AppDeploy\Config.yaml`

// CSP OMA-URI registry path for enterprise policy configuration
const CSPRegistryPath = `SOFTWARE\WindowsAdmins\AppDeploy`

// Configuration holds the configurable options for AppDeploy in YAML format
type Configuration struct {
	CloseAppsTimeoutSeconds int      `yaml:"CloseAppsTimeoutSeconds"` // Countdown before blocking apps are force-closed (attended mode)
	Debug                   bool     `yaml:"Debug"`
	DefaultMSIArguments     []string `yaml:"DefaultMSIArguments"`
	FailOnPendingReboot     bool     `yaml:"FailOnPendingReboot"`
	ForceCloseApps          bool     `yaml:"ForceCloseApps"`
	LogDir                  string   `yaml:"LogDir"`
	LogLevel                string   `yaml:"LogLevel"`
	LogRetentionDays        int      `yaml:"LogRetentionDays"`
	ReceiptsPath            string   `yaml:"ReceiptsPath"`
	StatusPipeAddress       string   `yaml:"StatusPipeAddress"`
	StatusPipeEnabled       bool     `yaml:"StatusPipeEnabled"`
	StrictApplicability     bool     `yaml:"StrictApplicability"` // Fail instead of no-op when a definition does not apply to this host
	Verbose                 bool     `yaml:"Verbose"`

	// Installer timeout settings
	InstallerTimeoutMinutes int `yaml:"InstallerTimeoutMinutes"` // Default timeout for installers (in minutes)
}

// LoadConfig loads the configuration from a YAML file.
// If the YAML file doesn't exist, it falls back to CSP OMA-URI registry
// settings, and finally to built-in defaults. Deployments must be able to
// run on a host that has never been configured.
func LoadConfig() (*Configuration, error) {
	if _, err := os.Stat(ConfigPath); os.IsNotExist(err) {
		config, cspErr := LoadConfigFromCSP()
		if cspErr == nil {
			log.Printf("Loaded configuration from CSP OMA-URI registry settings")
			return config, nil
		}

		config = GetDefaultConfig()
		if err := ensureDirectories(config); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(ConfigPath)
	if err != nil {
		log.Printf("Failed to read configuration file: %v", err)
		return nil, err
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("Failed to parse configuration file: %v", err)
		return nil, err
	}

	if err := ensureDirectories(config); err != nil {
		return nil, err
	}

	return config, nil
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		CloseAppsTimeoutSeconds: 300,
		Debug:                   false,
		DefaultMSIArguments:     []string{"/quiet", "/norestart"},
		FailOnPendingReboot:     false,
		ForceCloseApps:          false,
		LogDir:                  `C:\ProgramData\AppDeploy\Logs`,
		LogLevel:                "info",
		LogRetentionDays:        30,
		ReceiptsPath:            `C:\ProgramData\AppDeploy\Receipts`,
		StatusPipeAddress:       "127.0.0.1:19847",
		StatusPipeEnabled:       false,
		StrictApplicability:     false,
		Verbose:                 false,
		InstallerTimeoutMinutes: 15,
	}
}

// LogDirPath returns the configured log directory, or the default when unset.
func (c *Configuration) LogDirPath() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return `C:\ProgramData\AppDeploy\Logs`
}

// ensureDirectories creates the working directories a deployment run needs.
func ensureDirectories(config *Configuration) error {
	for _, path := range []string{config.ReceiptsPath, config.LogDirPath()} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %v", path, err)
		}
	}
	return nil
}

// LoadConfigFromCSP loads configuration from Windows CSP OMA-URI registry settings.
// This serves as a fallback when the Config.yaml file doesn't exist.
func LoadConfigFromCSP() (*Configuration, error) {
	// Start with default configuration
	config := GetDefaultConfig()

	err := loadCSPFromRegistryPath(CSPRegistryPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load from CSP registry path: %v", err)
	}

	log.Printf("Loaded CSP configuration from registry path: %s", CSPRegistryPath)

	if err := ensureDirectories(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadCSPFromRegistryPath loads configuration values from a specific registry path.
func loadCSPFromRegistryPath(registryPath string, config *Configuration) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, registryPath, registry.READ)
	if err != nil {
		return fmt.Errorf("failed to open CSP registry key %s: %v", registryPath, err)
	}
	defer key.Close()

	k := cspKey{key}

	k.str("LogDir", &config.LogDir)
	k.str("LogLevel", &config.LogLevel)
	k.str("ReceiptsPath", &config.ReceiptsPath)
	k.str("StatusPipeAddress", &config.StatusPipeAddress)

	k.integer("CloseAppsTimeoutSeconds", &config.CloseAppsTimeoutSeconds)
	k.integer("InstallerTimeoutMinutes", &config.InstallerTimeoutMinutes)
	k.integer("LogRetentionDays", &config.LogRetentionDays)

	k.boolean("Debug", &config.Debug)
	k.boolean("FailOnPendingReboot", &config.FailOnPendingReboot)
	k.boolean("ForceCloseApps", &config.ForceCloseApps)
	k.boolean("StatusPipeEnabled", &config.StatusPipeEnabled)
	k.boolean("StrictApplicability", &config.StrictApplicability)
	k.boolean("Verbose", &config.Verbose)

	k.list("DefaultMSIArguments", &config.DefaultMSIArguments)

	return nil
}

// cspKey reads typed policy values. Each reader accepts both REG_SZ and
// REG_DWORD spellings because MDM providers differ in how they write
// OMA-URI values. Absent values leave the target untouched.
type cspKey struct {
	registry.Key
}

func (k cspKey) str(name string, dst *string) {
	if val, _, err := k.GetStringValue(name); err == nil && val != "" {
		*dst = val
		log.Printf("CSP: %s=%s", name, val)
	}
}

func (k cspKey) boolean(name string, dst *bool) {
	if val, _, err := k.GetStringValue(name); err == nil {
		if parsed, perr := strconv.ParseBool(val); perr == nil {
			*dst = parsed
			log.Printf("CSP: %s=%t", name, parsed)
			return
		}
	}
	if val, _, err := k.GetIntegerValue(name); err == nil {
		*dst = val != 0
		log.Printf("CSP: %s=%t", name, *dst)
	}
}

func (k cspKey) integer(name string, dst *int) {
	if val, _, err := k.GetStringValue(name); err == nil {
		if parsed, perr := strconv.Atoi(val); perr == nil {
			*dst = parsed
			log.Printf("CSP: %s=%d", name, parsed)
			return
		}
	}
	if val, _, err := k.GetIntegerValue(name); err == nil {
		*dst = int(val)
		log.Printf("CSP: %s=%d", name, *dst)
	}
}

// list accepts REG_MULTI_SZ or a comma-separated REG_SZ.
func (k cspKey) list(name string, dst *[]string) {
	vals, _, err := k.GetStringsValue(name)
	if err != nil {
		single, _, serr := k.GetStringValue(name)
		if serr != nil || single == "" {
			return
		}
		vals = strings.Split(single, ",")
	}
	if cleaned := compact(vals); len(cleaned) > 0 {
		*dst = cleaned
		log.Printf("CSP: %s=%v", name, cleaned)
	}
}

// compact trims entries and drops the blanks.
func compact(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
