// pkg/session/session.go

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/appdeploy/pkg/blocking"
	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/installer"
	"github.com/windowsadmins/appdeploy/pkg/logging"
	"github.com/windowsadmins/appdeploy/pkg/predicates"
	"github.com/windowsadmins/appdeploy/pkg/preflight"
	"github.com/windowsadmins/appdeploy/pkg/reporter"
	"github.com/windowsadmins/appdeploy/pkg/scripts"
	"github.com/windowsadmins/appdeploy/pkg/shortcut"
	"github.com/windowsadmins/appdeploy/pkg/status"
	"github.com/windowsadmins/appdeploy/pkg/utils"
)

// Deployment types and modes accepted on the command line.
const (
	TypeInstall   = "install"
	TypeUninstall = "uninstall"

	ModeAttended       = "attended"
	ModeSilent         = "silent"
	ModeNoninteractive = "noninteractive"
)

// Test seams for the package boundaries the phases cross.
var (
	gatherFacts        = predicates.Gather
	checkApplicability = preflight.CheckApplicability
	checkDiskSpace     = preflight.CheckDiskSpace
	checkPendingReboot = preflight.CheckPendingReboot
	closeApps          = blocking.CloseApps
	detectInstalled    = status.Detect
	installerInstall   = installer.Install
	installerUninstall = installer.Uninstall
	runScript          = scripts.Run
	createShortcut     = shortcut.Create
	removeShortcut     = shortcut.Remove
	removeShortcutPath = shortcut.RemoveByPath
	writeReceipt       = installer.WriteReceipt
	readReceipt        = installer.ReadReceipt
	removeReceipt      = installer.RemoveReceipt
	registerARP        = status.RegisterARP
	unregisterARP      = status.UnregisterARP
)

// Options carries the command-line choices for one deployment run.
type Options struct {
	DeployType          string // install or uninstall
	DeployMode          string // attended, silent, noninteractive
	CheckOnly           bool   // report pending actions, change nothing
	Force               bool   // run the engine even when detection says no
	AllowRebootPassThru bool
	StrictApplicability bool
	FilesRoot           string // override the payload root (default: next to the definition)
}

// Session is one deployment run of a single definition.
type Session struct {
	Info   *deployinfo.DeployInfo
	Config *config.Configuration
	Opts   Options
	Report reporter.Reporter

	StartTime      time.Time
	RebootRequired bool
	ExitCode       int

	rebootInitiated bool
	phases          []phaseResult
}

type phaseResult struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"` // ok, skipped, failed
	Detail string `yaml:"detail,omitempty"`
}

// New validates the run options and prepares a session for the loaded
// definition. Callers map a non-nil error to ExitBootstrapFailed:
// nothing has been deployed yet.
func New(info *deployinfo.DeployInfo, cfg *config.Configuration, opts Options) (*Session, error) {
	if opts.DeployType == "" {
		opts.DeployType = TypeInstall
	}
	if opts.DeployMode == "" {
		opts.DeployMode = ModeAttended
	}
	switch opts.DeployType {
	case TypeInstall, TypeUninstall:
	default:
		return nil, fmt.Errorf("unknown deployment type %q", opts.DeployType)
	}
	switch opts.DeployMode {
	case ModeAttended, ModeSilent, ModeNoninteractive:
	default:
		return nil, fmt.Errorf("unknown deployment mode %q", opts.DeployMode)
	}

	if opts.FilesRoot != "" {
		// Relative payload locations resolve against the definition's
		// directory, so re-home the definition under the override root.
		abs, err := filepath.Abs(opts.FilesRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving files root: %w", err)
		}
		info.SourcePath = filepath.Join(abs, filepath.Base(info.SourcePath))
	}

	// The status pipe feeds a separate progress window; silent runs show
	// nothing at all.
	rep := reporter.New(cfg.StatusPipeEnabled && opts.DeployMode != ModeSilent, cfg.StatusPipeAddress)

	return &Session{
		Info:   info,
		Config: cfg,
		Opts:   opts,
		Report: rep,
	}, nil
}

// Run executes the deployment phases in order and returns the process
// exit code.
func (s *Session) Run(ctx context.Context) int {
	s.StartTime = time.Now()
	if err := s.Report.Start(ctx); err != nil {
		logging.Debug("Status reporter unavailable", "error", err)
	}
	defer s.Report.Stop()

	logging.Info("Deployment session starting",
		"app", s.Info.Title(),
		"version", s.Info.Version,
		"type", s.Opts.DeployType,
		"mode", s.Opts.DeployMode,
		"check_only", s.Opts.CheckOnly)

	var code int
	if s.Opts.DeployType == TypeUninstall {
		code = s.runUninstall(ctx)
	} else {
		code = s.runInstall(ctx)
	}
	code = s.finalizeRebootCode(code)
	s.ExitCode = code
	if code != ExitSuccess && code != ExitRebootRequired && code != installer.ExitRebootInitiated {
		s.Report.ShowLog(logging.GetCurrentLogDir())
	}

	s.writeSummary()
	logging.Info("Deployment session finished",
		"app", s.Info.Title(),
		"exit_code", code,
		"reboot_required", s.RebootRequired,
		"duration", time.Since(s.StartTime).Round(time.Millisecond).String())
	return code
}

func (s *Session) runInstall(ctx context.Context) int {
	info, cfg := s.Info, s.Config
	s.Report.Message(fmt.Sprintf("Installing %s %s...", info.Title(), info.Version))

	facts := gatherFacts()
	if err := checkApplicability(info, facts); err != nil {
		var na *preflight.NotApplicableError
		if errors.As(err, &na) {
			if s.strictApplicability() {
				s.fail("applicability", err)
				return ExitNotApplicable
			}
			s.skip("applicability", strings.Join(na.Reasons, "; "))
			logging.Warn("Definition does not apply to this host, nothing to do",
				"app", info.Title(), "reasons", na.Reasons)
			return ExitSuccess
		}
		s.fail("applicability", err)
		return ExitUnhandledError
	}
	s.ok("applicability", "")

	det := detectInstalled(info, cfg)
	if det.Installed && !s.Opts.Force && !status.InstallNeeded(det, info) {
		s.skip("detection", fmt.Sprintf("version %s already installed", det.Version))
		logging.Info("Already installed, nothing to do",
			"app", info.Title(), "installed", det.Version, "source", det.Source)
		return ExitSuccess
	}
	if det.Installed {
		s.ok("detection", fmt.Sprintf("installed version %s will be replaced", det.Version))
	} else {
		s.ok("detection", "not installed")
	}

	if s.Opts.CheckOnly {
		s.reportPending(det)
		return ExitSuccess
	}

	if code := s.closeBlockingApps(ctx); code != ExitSuccess {
		return code
	}

	if err := checkDiskSpace(s.installTarget(), info.Deployment.CheckDiskSpaceMB); err != nil {
		var short *preflight.DiskSpaceError
		if errors.As(err, &short) {
			s.fail("disk_space", err)
			return ExitNoDiskSpace
		}
		// Probe failures are not shortfalls.
		logging.Warn("Disk space check failed, continuing", "error", err)
		s.skip("disk_space", err.Error())
	} else {
		s.ok("disk_space", "")
	}

	if pending, sources := checkPendingReboot(); pending {
		if cfg.FailOnPendingReboot {
			err := fmt.Errorf("reboot pending: %s", strings.Join(sources, ", "))
			s.fail("pending_reboot", err)
			return ExitRebootPending
		}
		logging.Warn("Proceeding with a reboot already pending", "sources", sources)
	}

	if code := s.runHook("preinstall", info.Scripts.PreInstall); code != ExitSuccess {
		return code
	}

	s.Report.Detail(fmt.Sprintf("Running %s installer...", info.Installer.Type))
	res, err := installerInstall(info, cfg, logging.GetCurrentLogDir())
	if res != nil && res.RebootRequired {
		s.RebootRequired = true
		s.rebootInitiated = res.ExitCode == installer.ExitRebootInitiated
	}
	if err != nil {
		s.fail("install", err)
		if res != nil && isPassThroughCode(res.ExitCode) {
			return res.ExitCode
		}
		return ExitUnhandledError
	}
	s.ok("install", fmt.Sprintf("engine %s exit code %d", info.Installer.Type, res.ExitCode))

	links := s.placeShortcuts()

	rec := &installer.Receipt{
		Name:          info.Name,
		DisplayName:   info.DisplayName,
		Version:       info.Version,
		Developer:     info.Developer,
		InstallerType: info.Installer.Type,
		ProductCode:   info.Installer.ProductCode,
		Files:         res.Files,
		Shortcuts:     links,
	}
	if err := writeReceipt(cfg, rec); err != nil {
		logging.Warn("Failed to write receipt", "app", info.Name, "error", err)
	}
	if info.Installer.RegisterARP {
		if err := registerARP(info); err != nil {
			logging.Warn("Failed to register uninstall entry", "app", info.Title(), "error", err)
		}
	}

	if code := s.runHook("postinstall", info.Scripts.PostInstall); code != ExitSuccess {
		return code
	}

	s.verifyInstall()

	s.Report.Percent(100)
	s.Report.Message(fmt.Sprintf("%s %s installed", info.Title(), info.Version))
	return ExitSuccess
}

// verifyInstall re-runs detection once the engine and hooks finish. Copy
// deployments without an ARP entry may leave no registry trace, so an
// undetectable install only warns.
func (s *Session) verifyInstall() {
	det := detectInstalled(s.Info, s.Config)
	if det.Installed {
		s.ok("verify", fmt.Sprintf("version %s via %s", det.Version, det.Source))
		logging.Info("Post-install verification",
			"app", s.Info.Title(), "version", det.Version, "source", det.Source)
		return
	}
	logging.Warn("Installed application not detectable", "app", s.Info.Title())
	s.skip("verify", "not detectable")
}

func (s *Session) runUninstall(ctx context.Context) int {
	info, cfg := s.Info, s.Config
	s.Report.Message(fmt.Sprintf("Removing %s...", info.Title()))

	det := detectInstalled(info, cfg)
	if !det.Installed && !s.Opts.Force {
		s.skip("detection", "not installed")
		logging.Info("Not installed, nothing to remove", "app", info.Title())
		return ExitSuccess
	}
	s.ok("detection", fmt.Sprintf("installed version %s", det.Version))

	rec, err := readReceipt(cfg, info.Name)
	if err != nil {
		logging.Warn("Failed to read receipt", "app", info.Name, "error", err)
	}

	if s.Opts.CheckOnly {
		s.reportPending(det)
		return ExitSuccess
	}

	if code := s.closeBlockingApps(ctx); code != ExitSuccess {
		return code
	}

	if code := s.runHook("preuninstall", info.Scripts.PreUninstall); code != ExitSuccess {
		return code
	}

	s.Report.Detail(fmt.Sprintf("Running %s uninstaller...", info.UninstallType()))
	res, err := installerUninstall(info, cfg, logging.GetCurrentLogDir(), rec)
	if res != nil && res.RebootRequired {
		s.RebootRequired = true
		s.rebootInitiated = res.ExitCode == installer.ExitRebootInitiated
	}
	if err != nil {
		s.fail("uninstall", err)
		if res != nil && isPassThroughCode(res.ExitCode) {
			return res.ExitCode
		}
		return ExitUnhandledError
	}
	s.ok("uninstall", fmt.Sprintf("engine %s exit code %d", info.UninstallType(), res.ExitCode))

	s.removeShortcuts(rec)

	if info.Installer.RegisterARP {
		if err := unregisterARP(info); err != nil {
			logging.Warn("Failed to remove uninstall entry", "app", info.Title(), "error", err)
		}
	}
	if err := removeReceipt(cfg, info.Name); err != nil {
		logging.Warn("Failed to remove receipt", "app", info.Name, "error", err)
	}

	if code := s.runHook("postuninstall", info.Scripts.PostUninstall); code != ExitSuccess {
		return code
	}

	s.Report.Percent(100)
	s.Report.Message(fmt.Sprintf("%s removed", info.Title()))
	return ExitSuccess
}

// closeBlockingApps drives the blocking-application phase. Outside
// attended mode nobody is watching the countdown, so survivors are
// terminated immediately.
func (s *Session) closeBlockingApps(ctx context.Context) int {
	apps := s.Info.Deployment.CloseApps
	if len(apps) == 0 {
		return ExitSuccess
	}
	s.Report.Detail("Closing blocking applications...")

	if err := closeApps(ctx, apps, s.closePolicy()); err != nil {
		var still *blocking.StillRunningError
		if errors.As(err, &still) {
			s.fail("close_apps", err)
			return ExitAppsStillRunning
		}
		s.fail("close_apps", err)
		return ExitUnhandledError
	}
	s.ok("close_apps", "")
	return ExitSuccess
}

func (s *Session) closePolicy() blocking.ClosePolicy {
	timeout := s.Info.Deployment.CloseAppsTimeoutSeconds
	if timeout <= 0 {
		timeout = s.Config.CloseAppsTimeoutSeconds
	}
	policy := blocking.ClosePolicy{
		Timeout: time.Duration(timeout) * time.Second,
		Force:   s.Config.ForceCloseApps || s.Info.Deployment.ForceCloseApps,
	}
	if s.Opts.DeployMode != ModeAttended {
		policy.Timeout = 0
		policy.Force = true
	}
	return policy
}

// runHook runs one pre/post script phase. A failing hook aborts the
// deployment.
func (s *Session) runHook(name string, script utils.LiteralString) int {
	if script == "" {
		return ExitSuccess
	}
	s.Report.Detail(fmt.Sprintf("Running %s script...", name))
	if err := runScript(name, string(script), s.workDir()); err != nil {
		s.fail(name+"_script", err)
		return ExitUnhandledError
	}
	s.ok(name+"_script", "")
	return ExitSuccess
}

func (s *Session) placeShortcuts() []string {
	var links []string
	for _, sc := range s.Info.Shortcuts {
		path, err := createShortcut(sc)
		if err != nil {
			logging.Warn("Shortcut creation failed", "shortcut", sc.Name, "error", err)
			continue
		}
		links = append(links, path)
	}
	if len(s.Info.Shortcuts) > 0 {
		s.ok("shortcuts", fmt.Sprintf("%d of %d placed", len(links), len(s.Info.Shortcuts)))
	}
	return links
}

// removeShortcuts removes the links recorded at install time, falling
// back to the definition when no receipt survives.
func (s *Session) removeShortcuts(rec *installer.Receipt) {
	if rec != nil && len(rec.Shortcuts) > 0 {
		for _, link := range rec.Shortcuts {
			if err := removeShortcutPath(link); err != nil {
				logging.Warn("Shortcut removal failed", "path", link, "error", err)
			}
		}
		return
	}
	for _, sc := range s.Info.Shortcuts {
		if err := removeShortcut(sc); err != nil {
			logging.Warn("Shortcut removal failed", "shortcut", sc.Name, "error", err)
		}
	}
}

// reportPending prints what a real run would do, in the check-only mode.
func (s *Session) reportPending(det status.Detection) {
	info := s.Info
	logging.Info("Check-only run, no changes made")

	installed := det.Version
	if !det.Installed {
		installed = "-"
	}
	logging.Info("Pending action",
		"action", s.Opts.DeployType,
		"app", info.Title(),
		"version", info.Version,
		"installed", installed,
		"engine", info.Installer.Type)

	if len(info.Deployment.CloseApps) > 0 {
		var running []string
		for _, app := range info.Deployment.CloseApps {
			if blocking.IsAppRunning(app) {
				running = append(running, app)
			}
		}
		logging.Info("Would close applications",
			"apps", info.Deployment.CloseApps, "running", running)
	}
	if s.Opts.DeployType == TypeInstall && info.Deployment.CheckDiskSpaceMB > 0 {
		if err := checkDiskSpace(s.installTarget(), info.Deployment.CheckDiskSpaceMB); err != nil {
			logging.Warn("Disk space would block this deployment", "error", err)
		} else {
			logging.Info("Disk space sufficient", "required_mb", info.Deployment.CheckDiskSpaceMB)
		}
	}
	if pending, sources := checkPendingReboot(); pending {
		logging.Warn("A reboot is already pending", "sources", sources)
	}
	s.ok("check_only", "")
}

// installTarget is the volume the disk-space check runs against.
func (s *Session) installTarget() string {
	if s.Info.Installer.Type == "copy" && s.Info.Installer.Destination != "" {
		return utils.ExpandWindowsEnv(s.Info.Installer.Destination)
	}
	drive := os.Getenv("SystemDrive")
	if drive == "" {
		drive = "C:"
	}
	return drive + `\`
}

func (s *Session) workDir() string {
	return filepath.Dir(s.Info.SourcePath)
}

func (s *Session) strictApplicability() bool {
	return s.Opts.StrictApplicability || s.Config.StrictApplicability
}

func (s *Session) allowRebootPassThru() bool {
	return s.Opts.AllowRebootPassThru || s.Info.Deployment.AllowRebootPassThru
}

// finalizeRebootCode applies the reboot pass-through policy to a
// successful run.
func (s *Session) finalizeRebootCode(code int) int {
	if !s.RebootRequired || code != ExitSuccess {
		return code
	}
	if s.allowRebootPassThru() {
		out := ExitRebootRequired
		if s.rebootInitiated {
			out = installer.ExitRebootInitiated
		}
		logging.Info("Reboot required, passing exit code through", "exit_code", out)
		return out
	}
	logging.Warn("A reboot is required to complete the deployment", "app", s.Info.Title())
	return ExitSuccess
}

// isPassThroughCode reports whether an engine exit code is meaningful
// to callers on its own. Anything else collapses to ExitUnhandledError.
func isPassThroughCode(code int) bool {
	switch code {
	case installer.ExitUserCancel,
		installer.ExitFatal,
		installer.ExitUnknownProduct,
		installer.ExitInstallerBusy,
		installer.ExitPackageOpenFailed:
		return true
	}
	return false
}

func (s *Session) ok(name, detail string) {
	s.phases = append(s.phases, phaseResult{Name: name, Status: "ok", Detail: detail})
}

func (s *Session) skip(name, detail string) {
	s.phases = append(s.phases, phaseResult{Name: name, Status: "skipped", Detail: detail})
}

func (s *Session) fail(name string, err error) {
	logging.Error("Deployment phase failed", "phase", name, "error", err)
	s.Report.Error(err)
	s.phases = append(s.phases, phaseResult{Name: name, Status: "failed", Detail: err.Error()})
}

type summary struct {
	Name           string        `yaml:"name"`
	Version        string        `yaml:"version"`
	DeployType     string        `yaml:"deploy_type"`
	DeployMode     string        `yaml:"deploy_mode"`
	CheckOnly      bool          `yaml:"check_only,omitempty"`
	ExitCode       int           `yaml:"exit_code"`
	RebootRequired bool          `yaml:"reboot_required,omitempty"`
	Started        string        `yaml:"started"`
	Finished       string        `yaml:"finished"`
	Duration       string        `yaml:"duration"`
	Phases         []phaseResult `yaml:"phases,omitempty"`
}

// writeSummary drops a machine-readable run summary next to the session
// logs. Failures only warn: the summary is not worth failing a
// deployment over.
func (s *Session) writeSummary() {
	dir := logging.GetCurrentLogDir()
	if dir == "" {
		return
	}
	finished := time.Now()
	sum := summary{
		Name:           s.Info.Name,
		Version:        s.Info.Version,
		DeployType:     s.Opts.DeployType,
		DeployMode:     s.Opts.DeployMode,
		CheckOnly:      s.Opts.CheckOnly,
		ExitCode:       s.ExitCode,
		RebootRequired: s.RebootRequired,
		Started:        s.StartTime.Format(time.RFC3339),
		Finished:       finished.Format(time.RFC3339),
		Duration:       finished.Sub(s.StartTime).Round(time.Millisecond).String(),
		Phases:         s.phases,
	}
	data, err := yaml.Marshal(&sum)
	if err != nil {
		logging.Warn("Failed to marshal session summary", "error", err)
		return
	}
	path := filepath.Join(dir, "summary.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Warn("Failed to write session summary", "path", path, "error", err)
	}
}
