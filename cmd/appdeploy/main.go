// cmd/appdeploy/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gonutz/w32"
	"github.com/spf13/pflag"
	"golang.org/x/sys/windows"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/session"
	"github.com/windowsadmins/appdeploy/pkg/utils"
	"github.com/windowsadmins/appdeploy/pkg/version"
)

var logger *logging.Logger

// enableANSIConsole enables ANSI colors in the console.
func enableANSIConsole() {
	for _, stream := range []*os.File{os.Stdout, os.Stderr} {
		handle := windows.Handle(stream.Fd())
		var mode uint32
		if err := windows.GetConsoleMode(handle, &mode); err == nil {
			mode |= windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
			_ = windows.SetConsoleMode(handle, mode)
		}
	}
}

// hideConsoleWindow hides the console for silent runs. Scheduled tasks
// and Intune both launch the tool with a console attached.
func hideConsoleWindow() {
	if hwnd := w32.GetConsoleWindow(); hwnd != 0 {
		w32.ShowWindow(hwnd, w32.SW_HIDE)
	}
}

func usage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <definition.yaml>\n\n", prog)
	fmt.Fprintf(os.Stderr, "Deploys or removes one application per its deployment definition.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	pflag.PrintDefaults()
}

func main() {
	utils.PatchWindowsArgs()
	enableANSIConsole()

	deployType := pflag.String("type", session.TypeInstall, "Deployment type: install or uninstall.")
	deployMode := pflag.String("mode", session.ModeAttended, "Deployment mode: attended, silent or noninteractive.")
	checkOnly := pflag.Bool("checkonly", false, "Report pending actions, change nothing.")
	force := pflag.Bool("force", false, "Run the engine even when detection says there is nothing to do.")
	allowReboot := pflag.Bool("allow-reboot-passthru", false, "Return 3010 instead of masking an installer's reboot request.")
	strictApplicability := pflag.Bool("strict-applicability", false, "Fail when the definition does not apply to this host.")
	filesRoot := pflag.String("files-root", "", "Directory holding the payload files (default: next to the definition).")
	showConfig := pflag.Bool("show-config", false, "Display the current configuration and exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	// Count the number of -v flags.
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	pflag.Usage = usage
	pflag.Parse()

	if *versionFlag {
		version.Print()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(session.ExitBootstrapFailed)
	}

	// Dynamically override LogLevel based on the number of -v flags.
	if verbosity > 0 {
		cfg.Verbose = true
		cfg.LogLevel = "INFO"
	}
	if verbosity >= 2 {
		cfg.Debug = true
		cfg.LogLevel = "DEBUG"
	}

	logger = logging.New(verbosity > 0)

	// Show configuration if requested.
	if *showConfig {
		if cfgYaml, err := yaml.Marshal(cfg); err == nil {
			logger.Printf("Current configuration:\n%s", string(cfgYaml))
		}
		os.Exit(0)
	}

	if pflag.NArg() != 1 {
		usage()
		os.Exit(session.ExitBootstrapFailed)
	}
	definitionPath := pflag.Arg(0)

	if *deployMode == session.ModeSilent {
		hideConsoleWindow()
	}

	// Check-only never mutates the system and may run unelevated.
	if !*checkOnly {
		admin, adminErr := adminCheck()
		if adminErr != nil || !admin {
			logger.Error("Administrative access required. Error: %v, Admin: %v", adminErr, admin)
			os.Exit(session.ExitBootstrapFailed)
		}
	}

	if err := logging.Init(cfg); err != nil {
		logger.Error("Error initializing logger: %v", err)
		os.Exit(session.ExitBootstrapFailed)
	}
	defer logging.CloseLogger()

	info, err := deployinfo.Load(definitionPath)
	if err != nil {
		logging.Error("Failed to load deployment definition", "path", definitionPath, "error", err)
		os.Exit(session.ExitBootstrapFailed)
	}

	sess, err := session.New(info, cfg, session.Options{
		DeployType:          *deployType,
		DeployMode:          *deployMode,
		CheckOnly:           *checkOnly,
		Force:               *force,
		AllowRebootPassThru: *allowReboot,
		StrictApplicability: *strictApplicability,
		FilesRoot:           *filesRoot,
	})
	if err != nil {
		logging.Error("Failed to start deployment session", "error", err)
		os.Exit(session.ExitBootstrapFailed)
	}

	// Handle system signals for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signalChan
		logging.Warn("Signal received, stopping deployment", "signal", sig.String())
		cancel()
		<-signalChan
		logging.CloseLogger()
		os.Exit(session.ExitUnhandledError)
	}()

	code := sess.Run(ctx)
	logging.CloseLogger()
	os.Exit(code)
}

// adminCheck verifies whether the current process has administrative privileges.
func adminCheck() (bool, error) {
	var adminSid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&adminSid)
	if err != nil {
		return false, err
	}
	defer windows.FreeSid(adminSid)
	token := windows.Token(0)
	isMember, err := token.IsMember(adminSid)
	return isMember, err
}
