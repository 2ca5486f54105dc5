// pkg/installer/receipts.go - install receipts.
//
// A receipt is written after every successful install and removed after
// every successful uninstall. For copy installs it is the only record of
// which files were placed.

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Receipt records one installed application.
type Receipt struct {
	Name          string   `yaml:"name"`
	DisplayName   string   `yaml:"display_name,omitempty"`
	Version       string   `yaml:"version"`
	Developer     string   `yaml:"developer,omitempty"`
	InstallerType string   `yaml:"installer_type"`
	ProductCode   string   `yaml:"product_code,omitempty"`
	InstallDate   string   `yaml:"install_date"`
	Files         []string `yaml:"files,omitempty"`
	Shortcuts     []string `yaml:"shortcuts,omitempty"`
}

// receiptPath returns where a named application's receipt lives.
func receiptPath(cfg *config.Configuration, name string) string {
	return filepath.Join(cfg.ReceiptsPath, name+".yaml")
}

// WriteReceipt persists the receipt, creating the receipts directory on
// first use.
func WriteReceipt(cfg *config.Configuration, r *Receipt) error {
	if r.InstallDate == "" {
		r.InstallDate = time.Now().Format(time.RFC3339)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt for %s: %w", r.Name, err)
	}

	if err := os.MkdirAll(cfg.ReceiptsPath, 0755); err != nil {
		return fmt.Errorf("failed to create receipts directory: %w", err)
	}

	path := receiptPath(cfg, r.Name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write receipt %s: %w", path, err)
	}

	logging.Debug("Wrote install receipt", "name", r.Name, "path", path)
	return nil
}

// ReadReceipt loads a receipt, returning (nil, nil) when none exists.
func ReadReceipt(cfg *config.Configuration, name string) (*Receipt, error) {
	path := receiptPath(cfg, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read receipt %s: %w", path, err)
	}

	var r Receipt
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse receipt %s: %w", path, err)
	}
	return &r, nil
}

// RemoveReceipt deletes a receipt if present.
func RemoveReceipt(cfg *config.Configuration, name string) error {
	path := receiptPath(cfg, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove receipt %s: %w", path, err)
	}
	logging.Debug("Removed install receipt", "name", name)
	return nil
}
