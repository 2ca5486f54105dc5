// cmd/makedeployinfo/main.go

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/extract"
	"github.com/windowsadmins/appdeploy/pkg/utils"
	"github.com/windowsadmins/appdeploy/pkg/version"
)

func usage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <installer.msi|installer.exe|payload-dir>\n\n", prog)
	fmt.Fprintf(os.Stderr, "Emits a deployment definition skeleton for the given installer or\n")
	fmt.Fprintf(os.Stderr, "payload directory, with metadata, hash and size filled in.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	pflag.PrintDefaults()
}

func main() {
	utils.PatchWindowsArgs()

	outPath := pflag.String("out", "", "Write the definition to this file instead of stdout.")
	name := pflag.String("name", "", "Name override.")
	displayName := pflag.String("display-name", "", "Display name override.")
	developer := pflag.String("developer", "", "Developer override.")
	category := pflag.String("category", "", "Category.")
	appVersion := pflag.String("app-version", "", "Version override.")
	destination := pflag.String("destination", "", "Destination for copy deployments (default %ProgramFiles%\\<name>).")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")
	pflag.Usage = usage
	pflag.Parse()

	if *versionFlag {
		version.Print()
		os.Exit(0)
	}

	if pflag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	source := pflag.Arg(0)

	st, err := os.Stat(source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read %s: %v\n", source, err)
		os.Exit(1)
	}

	var info *deployinfo.DeployInfo
	if st.IsDir() {
		info, err = scaffoldCopy(source)
	} else {
		switch strings.ToLower(filepath.Ext(source)) {
		case ".msi":
			info, err = scaffoldMSI(source)
		case ".exe":
			info, err = scaffoldEXE(source)
		default:
			err = fmt.Errorf("unsupported installer %q: expected .msi, .exe or a directory", source)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flag overrides win over extracted metadata.
	if *name != "" {
		info.Name = *name
	}
	if *displayName != "" {
		info.DisplayName = *displayName
	}
	if *developer != "" {
		info.Developer = *developer
	}
	if *category != "" {
		info.Category = *category
	}
	if *appVersion != "" {
		info.Version = *appVersion
	}
	if info.Version == "" {
		info.Version = time.Now().Format("2006.01.02")
	}
	if info.Installer.Type == "copy" {
		if *destination != "" {
			info.Installer.Destination = *destination
		} else if info.Installer.Destination == "" {
			info.Installer.Destination = `%ProgramFiles%\` + info.Name
		}
	}
	info.Definition = deployinfo.DefinitionMeta{
		Version: "1.0",
		Date:    time.Now().Format("2006-01-02"),
		Author:  os.Getenv("USERNAME"),
	}

	data, err := yaml.Marshal(info)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling YAML: %v\n", err)
		os.Exit(1)
	}

	if *outPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Println("Definition written:", *outPath)
}

// scaffoldMSI builds a definition from the MSI's Property table.
func scaffoldMSI(path string) (*deployinfo.DeployInfo, error) {
	props, err := extract.MsiMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("reading MSI metadata: %w", err)
	}

	size, hash, err := fileInfo(path)
	if err != nil {
		return nil, err
	}

	info := &deployinfo.DeployInfo{
		Name:        props.ProductName,
		DisplayName: props.ProductName,
		Version:     version.Normalize(props.ProductVersion),
		Developer:   props.Manufacturer,
		Description: utils.LiteralString(props.Comments),
		Installer: deployinfo.InstallerItem{
			Type:        "msi",
			Location:    filepath.Base(path),
			Hash:        hash,
			Size:        size,
			ProductCode: props.ProductCode,
		},
	}
	return info, nil
}

// scaffoldEXE builds a definition from the binary's version resource.
func scaffoldEXE(path string) (*deployinfo.DeployInfo, error) {
	size, hash, err := fileInfo(path)
	if err != nil {
		return nil, err
	}

	// Installer EXEs routinely carry the version in the filename
	// ("sqldeveloper-23.1.0.exe"); prefer the version resource when
	// the binary has one.
	base := filepath.Base(path)
	name, fileVer := deployinfo.SplitNameAndVersion(strings.TrimSuffix(base, filepath.Ext(base)))
	ver := extract.FileVersion(path)
	if ver == "" {
		ver = fileVer
	}

	info := &deployinfo.DeployInfo{
		Name:    name,
		Version: ver,
		Installer: deployinfo.InstallerItem{
			Type:      "exe",
			Location:  base,
			Hash:      hash,
			Size:      size,
			Arguments: []string{"/S"},
		},
	}
	return info, nil
}

// scaffoldCopy builds a definition for a payload directory.
func scaffoldCopy(dir string) (*deployinfo.DeployInfo, error) {
	sizeKB, err := treeSizeKB(dir)
	if err != nil {
		return nil, fmt.Errorf("sizing payload directory: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info := &deployinfo.DeployInfo{
		Name: filepath.Base(abs),
		Installer: deployinfo.InstallerItem{
			Type:            "copy",
			Location:        filepath.Base(abs),
			RegisterARP:     true,
			EstimatedSizeKB: sizeKB,
		},
	}
	return info, nil
}

func fileInfo(path string) (int64, string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, "", err
	}
	hash, err := utils.FileSHA256(path)
	if err != nil {
		return 0, "", err
	}
	return fi.Size(), hash, nil
}

func treeSizeKB(dir string) (int, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return int(total / 1024), err
}
