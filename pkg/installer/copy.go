// pkg/installer/copy.go - file-copy engine for applications that ship
// without an installer.

package installer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/utils"
)

func runCopyInstall(info *deployinfo.DeployInfo) (*Result, error) {
	src, err := resolvePayload(info, info.Installer.Location, info.Installer.Hash)
	if err != nil {
		return nil, err
	}
	dst := utils.ExpandWindowsEnv(info.Installer.Destination)

	files, err := copyTree(src, dst)
	if err != nil {
		return nil, fmt.Errorf("copy install failed: %w", err)
	}

	logging.Info("Copied application files",
		"name", info.Name,
		"destination", dst,
		"files", len(files),
	)
	return &Result{
		ExitCode: ExitSuccess,
		Output:   fmt.Sprintf("copied %d files to %s", len(files), dst),
		Files:    files,
	}, nil
}

// copyTree mirrors src into dst and returns the absolute path of every
// file written. A single-file src lands directly inside dst.
func copyTree(src, dst string) ([]string, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		target := filepath.Join(dst, filepath.Base(src))
		if err := copyFile(src, target); err != nil {
			return nil, err
		}
		return []string{target}, nil
	}

	var files []string
	err = filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		files = append(files, target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runCopyUninstall(info *deployinfo.DeployInfo, receipt *Receipt) (*Result, error) {
	var paths []string
	switch {
	case receipt != nil && len(receipt.Files) > 0:
		paths = receipt.Files
	case len(info.Uninstaller.Paths) > 0:
		for _, p := range info.Uninstaller.Paths {
			paths = append(paths, utils.ExpandWindowsEnv(p))
		}
	default:
		return nil, fmt.Errorf("copy uninstall needs a receipt or uninstaller paths")
	}

	removed := removePaths(paths)
	logging.Info("Removed application files", "name", info.Name, "removed", removed)
	return &Result{
		ExitCode: ExitSuccess,
		Output:   fmt.Sprintf("removed %d paths", removed),
	}, nil
}

// removePaths deletes the given files and directories, then prunes any
// parent directories the removals emptied. Missing paths are skipped.
func removePaths(paths []string) int {
	removed := 0
	parents := make(map[string]struct{})

	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			logging.Debug("Path already absent", "path", p)
			continue
		}
		parents[filepath.Dir(p)] = struct{}{}
		if fi.IsDir() {
			err = os.RemoveAll(p)
		} else {
			err = os.Remove(p)
		}
		if err != nil {
			logging.Warn("Failed to remove path", "path", p, "error", err)
			continue
		}
		removed++
	}

	pruneEmptyDirs(parents)
	return removed
}

// pruneEmptyDirs removes directories bottom-up while they stay empty.
func pruneEmptyDirs(dirs map[string]struct{}) {
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	// Deepest first so children empty out before their parents.
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Count(sorted[i], `\`) > strings.Count(sorted[j], `\`)
	})

	for _, dir := range sorted {
		for dir != "" && dir != filepath.Dir(dir) {
			if err := os.Remove(dir); err != nil {
				// Not empty or not removable, stop climbing.
				break
			}
			dir = filepath.Dir(dir)
		}
	}
}
