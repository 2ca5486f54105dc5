package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/appdeploy/pkg/blocking"
	"github.com/windowsadmins/appdeploy/pkg/config"
	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
	"github.com/windowsadmins/appdeploy/pkg/installer"
	"github.com/windowsadmins/appdeploy/pkg/predicates"
	"github.com/windowsadmins/appdeploy/pkg/preflight"
	"github.com/windowsadmins/appdeploy/pkg/reporter"
	"github.com/windowsadmins/appdeploy/pkg/status"
)

// stubState replaces every phase boundary with a recording stub so tests
// can drive a full session without touching the system.
type stubState struct {
	calls []string

	applicabilityErr error
	detection        status.Detection
	closeAppsErr     error
	closePolicy      blocking.ClosePolicy
	diskErr          error
	pendingReboot    bool
	rebootSources    []string
	installResult    *installer.Result
	installErr       error
	uninstallResult  *installer.Result
	uninstallErr     error
	scriptErr        map[string]error
	receipt          *installer.Receipt
	receiptReadErr   error

	writtenReceipt   *installer.Receipt
	uninstallReceipt *installer.Receipt
	removedLinks     []string
}

func (st *stubState) record(name string) { st.calls = append(st.calls, name) }

func stubSeams(t *testing.T) *stubState {
	t.Helper()
	st := &stubState{
		installResult:   &installer.Result{ExitCode: installer.ExitSuccess},
		uninstallResult: &installer.Result{ExitCode: installer.ExitSuccess},
		scriptErr:       map[string]error{},
	}

	origGather := gatherFacts
	origApplicability := checkApplicability
	origDisk := checkDiskSpace
	origPending := checkPendingReboot
	origClose := closeApps
	origDetect := detectInstalled
	origInstall := installerInstall
	origUninstall := installerUninstall
	origScript := runScript
	origCreateSC := createShortcut
	origRemoveSC := removeShortcut
	origRemoveSCPath := removeShortcutPath
	origWriteReceipt := writeReceipt
	origReadReceipt := readReceipt
	origRemoveReceipt := removeReceipt
	origRegisterARP := registerARP
	origUnregisterARP := unregisterARP
	t.Cleanup(func() {
		gatherFacts = origGather
		checkApplicability = origApplicability
		checkDiskSpace = origDisk
		checkPendingReboot = origPending
		closeApps = origClose
		detectInstalled = origDetect
		installerInstall = origInstall
		installerUninstall = origUninstall
		runScript = origScript
		createShortcut = origCreateSC
		removeShortcut = origRemoveSC
		removeShortcutPath = origRemoveSCPath
		writeReceipt = origWriteReceipt
		readReceipt = origReadReceipt
		removeReceipt = origRemoveReceipt
		registerARP = origRegisterARP
		unregisterARP = origUnregisterARP
	})

	gatherFacts = func() predicates.Facts {
		st.record("facts")
		return predicates.Facts{Architecture: "x64", OSVersion: "10.0", OSBuild: "22631"}
	}
	checkApplicability = func(*deployinfo.DeployInfo, predicates.Facts) error {
		st.record("applicability")
		return st.applicabilityErr
	}
	checkDiskSpace = func(string, int) error {
		st.record("disk_space")
		return st.diskErr
	}
	checkPendingReboot = func() (bool, []string) {
		st.record("pending_reboot")
		return st.pendingReboot, st.rebootSources
	}
	closeApps = func(_ context.Context, _ []string, policy blocking.ClosePolicy) error {
		st.record("close_apps")
		st.closePolicy = policy
		return st.closeAppsErr
	}
	detectInstalled = func(*deployinfo.DeployInfo, *config.Configuration) status.Detection {
		st.record("detect")
		return st.detection
	}
	installerInstall = func(*deployinfo.DeployInfo, *config.Configuration, string) (*installer.Result, error) {
		st.record("install")
		return st.installResult, st.installErr
	}
	installerUninstall = func(_ *deployinfo.DeployInfo, _ *config.Configuration, _ string, rec *installer.Receipt) (*installer.Result, error) {
		st.record("uninstall")
		st.uninstallReceipt = rec
		return st.uninstallResult, st.uninstallErr
	}
	runScript = func(name, _, _ string) error {
		st.record("script:" + name)
		return st.scriptErr[name]
	}
	createShortcut = func(sc deployinfo.Shortcut) (string, error) {
		st.record("shortcut:" + sc.Name)
		return `C:\links\` + sc.Name + ".lnk", nil
	}
	removeShortcut = func(sc deployinfo.Shortcut) error {
		st.record("rm_shortcut:" + sc.Name)
		return nil
	}
	removeShortcutPath = func(path string) error {
		st.record("rm_link")
		st.removedLinks = append(st.removedLinks, path)
		return nil
	}
	writeReceipt = func(_ *config.Configuration, r *installer.Receipt) error {
		st.record("write_receipt")
		st.writtenReceipt = r
		return nil
	}
	readReceipt = func(*config.Configuration, string) (*installer.Receipt, error) {
		st.record("read_receipt")
		return st.receipt, st.receiptReadErr
	}
	removeReceipt = func(*config.Configuration, string) error {
		st.record("remove_receipt")
		return nil
	}
	registerARP = func(*deployinfo.DeployInfo) error {
		st.record("register_arp")
		return nil
	}
	unregisterARP = func(*deployinfo.DeployInfo) error {
		st.record("unregister_arp")
		return nil
	}

	return st
}

func testInfo() *deployinfo.DeployInfo {
	return &deployinfo.DeployInfo{
		Name:        "SQLDeveloper",
		DisplayName: "Oracle SQL Developer",
		Version:     "23.1",
		Developer:   "Oracle",
		SourcePath:  `C:\deploy\SQLDeveloper\SQLDeveloper.yaml`,
		Installer: deployinfo.InstallerItem{
			Type:        deployinfo.TypeCopy,
			Location:    "payload",
			Destination: `C:\Program Files\SQLDeveloper`,
			RegisterARP: true,
		},
		Deployment: deployinfo.Deployment{
			CloseApps:        []string{"sqldeveloper64.exe"},
			CheckDiskSpaceMB: 1024,
		},
		Shortcuts: []deployinfo.Shortcut{
			{Name: "SQL Developer", Target: `C:\Program Files\SQLDeveloper\sqldeveloper.exe`},
		},
		Scripts: deployinfo.Scripts{
			PreInstall:    "Write-Host pre",
			PostInstall:   "Write-Host post",
			PreUninstall:  "Write-Host pre-remove",
			PostUninstall: "Write-Host post-remove",
		},
	}
}

func testConfig() *config.Configuration {
	cfg := config.GetDefaultConfig()
	cfg.StatusPipeEnabled = false
	return cfg
}

func newTestSession(t *testing.T, info *deployinfo.DeployInfo, cfg *config.Configuration, opts Options) *Session {
	t.Helper()
	s, err := New(info, cfg, opts)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, TypeInstall, s.Opts.DeployType)
		assert.Equal(t, ModeAttended, s.Opts.DeployMode)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(testInfo(), testConfig(), Options{DeployType: "repair"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown deployment type")
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := New(testInfo(), testConfig(), Options{DeployMode: "quiet"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown deployment mode")
	})

	t.Run("files root rehomes the definition", func(t *testing.T) {
		root := t.TempDir()
		info := testInfo()
		s := newTestSession(t, info, testConfig(), Options{FilesRoot: root})
		assert.Equal(t, filepath.Join(root, "SQLDeveloper.yaml"), s.Info.SourcePath)
	})

	t.Run("silent mode suppresses the status pipe", func(t *testing.T) {
		cfg := testConfig()
		cfg.StatusPipeEnabled = true

		s := newTestSession(t, testInfo(), cfg, Options{DeployMode: ModeSilent})
		assert.IsType(t, &reporter.NoOpReporter{}, s.Report)

		s = newTestSession(t, testInfo(), cfg, Options{DeployMode: ModeAttended})
		assert.IsType(t, &reporter.PipeReporter{}, s.Report)
	})
}

func TestInstallHappyPath(t *testing.T) {
	st := stubSeams(t)
	st.installResult = &installer.Result{
		ExitCode: installer.ExitSuccess,
		Files:    []string{`C:\Program Files\SQLDeveloper\sqldeveloper.exe`},
	}

	s := newTestSession(t, testInfo(), testConfig(), Options{})
	code := s.Run(context.Background())

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, ExitSuccess, s.ExitCode)
	assert.Equal(t, []string{
		"facts", "applicability", "detect", "close_apps", "disk_space",
		"pending_reboot", "script:preinstall", "install",
		"shortcut:SQL Developer", "write_receipt", "register_arp",
		"script:postinstall", "detect",
	}, st.calls)

	require.NotNil(t, st.writtenReceipt)
	assert.Equal(t, "SQLDeveloper", st.writtenReceipt.Name)
	assert.Equal(t, "23.1", st.writtenReceipt.Version)
	assert.Equal(t, deployinfo.TypeCopy, st.writtenReceipt.InstallerType)
	assert.Equal(t, st.installResult.Files, st.writtenReceipt.Files)
	assert.Equal(t, []string{`C:\links\SQL Developer.lnk`}, st.writtenReceipt.Shortcuts)
}

func TestInstallAlreadyInstalled(t *testing.T) {
	t.Run("same version skips the engine", func(t *testing.T) {
		st := stubSeams(t)
		st.detection = status.Detection{Installed: true, Version: "23.1", Source: "receipt"}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("older version reinstalls", func(t *testing.T) {
		st := stubSeams(t)
		st.detection = status.Detection{Installed: true, Version: "22.2", Source: "receipt"}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.Contains(t, st.calls, "install")
	})

	t.Run("force overrides detection", func(t *testing.T) {
		st := stubSeams(t)
		st.detection = status.Detection{Installed: true, Version: "23.1", Source: "receipt"}

		s := newTestSession(t, testInfo(), testConfig(), Options{Force: true})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.Contains(t, st.calls, "install")
	})
}

func TestPostInstallVerify(t *testing.T) {
	st := stubSeams(t)
	st.detection = status.Detection{Installed: true, Version: "23.1", Source: "registry"}

	s := newTestSession(t, testInfo(), testConfig(), Options{Force: true})
	assert.Equal(t, ExitSuccess, s.Run(context.Background()))

	// Detection runs twice: once for the short-circuit decision, once to
	// confirm the result.
	var detects int
	for _, c := range st.calls {
		if c == "detect" {
			detects++
		}
	}
	assert.Equal(t, 2, detects)
}

func TestInstallNotApplicable(t *testing.T) {
	naErr := &preflight.NotApplicableError{Reasons: []string{"architecture arm64 not supported"}}

	t.Run("default is a no-op success", func(t *testing.T) {
		st := stubSeams(t)
		st.applicabilityErr = naErr

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("strict mode fails", func(t *testing.T) {
		st := stubSeams(t)
		st.applicabilityErr = naErr

		s := newTestSession(t, testInfo(), testConfig(), Options{StrictApplicability: true})
		assert.Equal(t, ExitNotApplicable, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("strict via config", func(t *testing.T) {
		st := stubSeams(t)
		st.applicabilityErr = naErr
		cfg := testConfig()
		cfg.StrictApplicability = true

		s := newTestSession(t, testInfo(), cfg, Options{})
		assert.Equal(t, ExitNotApplicable, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("probe breakage is unhandled", func(t *testing.T) {
		st := stubSeams(t)
		st.applicabilityErr = errors.New("wmi query failed")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})
}

func TestInstallBlockingApps(t *testing.T) {
	t.Run("apps still running", func(t *testing.T) {
		st := stubSeams(t)
		st.closeAppsErr = &blocking.StillRunningError{Apps: []string{"sqldeveloper64.exe"}}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitAppsStillRunning, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("enumeration failure is unhandled", func(t *testing.T) {
		st := stubSeams(t)
		st.closeAppsErr = errors.New("access denied")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("no blocking apps configured", func(t *testing.T) {
		st := stubSeams(t)
		info := testInfo()
		info.Deployment.CloseApps = nil

		s := newTestSession(t, info, testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "close_apps")
	})
}

func TestInstallDiskSpace(t *testing.T) {
	t.Run("shortfall aborts", func(t *testing.T) {
		st := stubSeams(t)
		st.diskErr = &preflight.DiskSpaceError{Drive: `C:\`, RequiredMB: 2048, FreeMB: 100}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitNoDiskSpace, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("probe failure continues", func(t *testing.T) {
		st := stubSeams(t)
		st.diskErr = errors.New("failed to query disk usage")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.Contains(t, st.calls, "install")
	})
}

func TestInstallPendingReboot(t *testing.T) {
	t.Run("blocks when configured", func(t *testing.T) {
		st := stubSeams(t)
		st.pendingReboot = true
		st.rebootSources = []string{"windows update"}
		cfg := testConfig()
		cfg.FailOnPendingReboot = true

		s := newTestSession(t, testInfo(), cfg, Options{})
		assert.Equal(t, ExitRebootPending, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("warns and continues by default", func(t *testing.T) {
		st := stubSeams(t)
		st.pendingReboot = true
		st.rebootSources = []string{"windows update"}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.Contains(t, st.calls, "install")
	})
}

func TestInstallHookFailures(t *testing.T) {
	t.Run("preinstall failure stops before the engine", func(t *testing.T) {
		st := stubSeams(t)
		st.scriptErr["preinstall"] = errors.New("exit status 1")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "install")
	})

	t.Run("postinstall failure fails after the engine", func(t *testing.T) {
		st := stubSeams(t)
		st.scriptErr["postinstall"] = errors.New("exit status 1")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
		assert.Contains(t, st.calls, "install")
	})
}

func TestInstallEngineFailure(t *testing.T) {
	t.Run("known msi code passes through", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitFatal}
		st.installErr = errors.New("msiexec exited with code 1603")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, installer.ExitFatal, s.Run(context.Background()))
	})

	t.Run("unknown code collapses", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: 7}
		st.installErr = errors.New("msiexec exited with code 7")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
	})

	t.Run("engine never ran", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = nil
		st.installErr = errors.New("installer payload missing")

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitUnhandledError, s.Run(context.Background()))
	})
}

func TestRebootHandling(t *testing.T) {
	t.Run("masked by default", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitRebootRequired, RebootRequired: true}

		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.True(t, s.RebootRequired)
	})

	t.Run("passed through when allowed", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitRebootRequired, RebootRequired: true}

		s := newTestSession(t, testInfo(), testConfig(), Options{AllowRebootPassThru: true})
		assert.Equal(t, ExitRebootRequired, s.Run(context.Background()))
	})

	t.Run("definition can allow pass-through", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitRebootRequired, RebootRequired: true}
		info := testInfo()
		info.Deployment.AllowRebootPassThru = true

		s := newTestSession(t, info, testConfig(), Options{})
		assert.Equal(t, ExitRebootRequired, s.Run(context.Background()))
	})

	t.Run("initiated reboot keeps its own code", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitRebootInitiated, RebootRequired: true}

		s := newTestSession(t, testInfo(), testConfig(), Options{AllowRebootPassThru: true})
		assert.Equal(t, installer.ExitRebootInitiated, s.Run(context.Background()))
	})

	t.Run("failure code is never rewritten", func(t *testing.T) {
		st := stubSeams(t)
		st.installResult = &installer.Result{ExitCode: installer.ExitFatal, RebootRequired: true}
		st.installErr = errors.New("msiexec exited with code 1603")

		s := newTestSession(t, testInfo(), testConfig(), Options{AllowRebootPassThru: true})
		assert.Equal(t, installer.ExitFatal, s.Run(context.Background()))
	})
}

func TestCheckOnlyInstall(t *testing.T) {
	st := stubSeams(t)

	s := newTestSession(t, testInfo(), testConfig(), Options{CheckOnly: true})
	assert.Equal(t, ExitSuccess, s.Run(context.Background()))

	assert.Equal(t, []string{
		"facts", "applicability", "detect", "disk_space", "pending_reboot",
	}, st.calls)
	assert.NotContains(t, st.calls, "install")
	assert.NotContains(t, st.calls, "close_apps")
}

func TestUninstallHappyPath(t *testing.T) {
	st := stubSeams(t)
	st.detection = status.Detection{Installed: true, Version: "23.1", Source: "receipt"}
	st.receipt = &installer.Receipt{
		Name:          "SQLDeveloper",
		Version:       "23.1",
		InstallerType: deployinfo.TypeCopy,
		Shortcuts: []string{
			`C:\links\SQL Developer.lnk`,
			`C:\links\SQL Developer Docs.lnk`,
		},
	}

	s := newTestSession(t, testInfo(), testConfig(), Options{DeployType: TypeUninstall})
	code := s.Run(context.Background())

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, []string{
		"detect", "read_receipt", "close_apps", "script:preuninstall",
		"uninstall", "rm_link", "rm_link", "unregister_arp",
		"remove_receipt", "script:postuninstall",
	}, st.calls)
	assert.Same(t, st.receipt, st.uninstallReceipt, "engine receives the stored receipt")
	assert.Equal(t, st.receipt.Shortcuts, st.removedLinks)
}

func TestUninstallNotInstalled(t *testing.T) {
	t.Run("skips quietly", func(t *testing.T) {
		st := stubSeams(t)

		s := newTestSession(t, testInfo(), testConfig(), Options{DeployType: TypeUninstall})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.NotContains(t, st.calls, "uninstall")
	})

	t.Run("force removes anyway", func(t *testing.T) {
		st := stubSeams(t)

		s := newTestSession(t, testInfo(), testConfig(), Options{DeployType: TypeUninstall, Force: true})
		assert.Equal(t, ExitSuccess, s.Run(context.Background()))
		assert.Contains(t, st.calls, "uninstall")
	})
}

func TestUninstallWithoutReceipt(t *testing.T) {
	st := stubSeams(t)
	st.detection = status.Detection{Installed: true, Version: "23.1", Source: "registry"}
	st.receipt = nil

	s := newTestSession(t, testInfo(), testConfig(), Options{DeployType: TypeUninstall})
	assert.Equal(t, ExitSuccess, s.Run(context.Background()))

	// No recorded links, so the definition's shortcuts are removed instead.
	assert.Contains(t, st.calls, "rm_shortcut:SQL Developer")
	assert.NotContains(t, st.calls, "rm_link")
}

func TestClosePolicy(t *testing.T) {
	t.Run("attended uses the configured countdown", func(t *testing.T) {
		s := newTestSession(t, testInfo(), testConfig(), Options{})
		policy := s.closePolicy()
		assert.Equal(t, 300*time.Second, policy.Timeout)
		assert.False(t, policy.Force)
	})

	t.Run("definition timeout overrides config", func(t *testing.T) {
		info := testInfo()
		info.Deployment.CloseAppsTimeoutSeconds = 60

		s := newTestSession(t, info, testConfig(), Options{})
		assert.Equal(t, 60*time.Second, s.closePolicy().Timeout)
	})

	t.Run("definition can force close", func(t *testing.T) {
		info := testInfo()
		info.Deployment.ForceCloseApps = true

		s := newTestSession(t, info, testConfig(), Options{})
		assert.True(t, s.closePolicy().Force)
	})

	t.Run("unattended modes close immediately", func(t *testing.T) {
		for _, mode := range []string{ModeSilent, ModeNoninteractive} {
			s := newTestSession(t, testInfo(), testConfig(), Options{DeployMode: mode})
			policy := s.closePolicy()
			assert.Equal(t, time.Duration(0), policy.Timeout, "mode %s", mode)
			assert.True(t, policy.Force, "mode %s", mode)
		}
	})
}

func TestIsPassThroughCode(t *testing.T) {
	t.Parallel()

	for _, code := range []int{
		installer.ExitUserCancel,
		installer.ExitFatal,
		installer.ExitUnknownProduct,
		installer.ExitInstallerBusy,
		installer.ExitPackageOpenFailed,
	} {
		assert.True(t, isPassThroughCode(code), "code %d", code)
	}
	assert.False(t, isPassThroughCode(installer.ExitSuccess))
	assert.False(t, isPassThroughCode(installer.ExitRebootRequired))
	assert.False(t, isPassThroughCode(7))
}

func TestInstallTarget(t *testing.T) {
	t.Run("copy destination", func(t *testing.T) {
		s := newTestSession(t, testInfo(), testConfig(), Options{})
		assert.Equal(t, `C:\Program Files\SQLDeveloper`, s.installTarget())
	})

	t.Run("environment variables expand", func(t *testing.T) {
		t.Setenv("ProgramFiles", `D:\Programs`)
		info := testInfo()
		info.Installer.Destination = `%ProgramFiles%\SQLDeveloper`

		s := newTestSession(t, info, testConfig(), Options{})
		assert.Equal(t, `D:\Programs\SQLDeveloper`, s.installTarget())
	})

	t.Run("msi falls back to the system drive", func(t *testing.T) {
		t.Setenv("SystemDrive", "C:")
		info := testInfo()
		info.Installer.Type = deployinfo.TypeMSI
		info.Installer.Destination = ""

		s := newTestSession(t, info, testConfig(), Options{})
		assert.Equal(t, `C:\`, s.installTarget())
	})
}
