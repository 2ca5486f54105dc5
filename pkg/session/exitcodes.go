// pkg/session/exitcodes.go

package session

// Exit codes for a deployment run. Installer exit codes in the msiexec
// range (installer.Exit*) pass through unchanged when the engine fails;
// the 60000 range is reserved for the deployment tool itself.
const (
	// ExitSuccess: the deployment completed, or there was nothing to do.
	ExitSuccess = 0

	// ExitRebootRequired mirrors msiexec 3010: the deployment succeeded
	// and a reboot finishes it. Returned only when reboot pass-through
	// is enabled; otherwise masked to ExitSuccess with a warning.
	ExitRebootRequired = 3010

	// ExitUnhandledError covers any failure without a more specific code.
	ExitUnhandledError = 60001

	// ExitAppsStillRunning: blocking applications survived the close
	// countdown and force-close was not allowed.
	ExitAppsStillRunning = 60004

	// ExitNoDiskSpace: the destination volume is short of the space the
	// definition asks for.
	ExitNoDiskSpace = 60005

	// ExitBootstrapFailed: configuration, logging, or the definition
	// could not be loaded. Nothing was deployed.
	ExitBootstrapFailed = 60008

	// ExitNotApplicable: the definition does not apply to this host and
	// strict applicability was requested.
	ExitNotApplicable = 60009

	// ExitRebootPending: a reboot from an earlier installation is still
	// outstanding and FailOnPendingReboot is set.
	ExitRebootPending = 60010
)
