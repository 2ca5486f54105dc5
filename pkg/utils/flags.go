//go:build windows
// +build windows

package utils

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PatchWindowsArgs re-parses the raw Windows command line so that os.Args
// exactly matches what the operator typed, including definition paths
// with spaces.
//
// Must be called before pflag.Parse() or any other os.Args usage in main().
func PatchWindowsArgs() {
	raw := windows.GetCommandLine()
	if raw == nil {
		return
	}
	var argc int32
	argv, err := windows.CommandLineToArgv(raw, &argc)
	if err != nil || argv == nil || argc < 1 {
		return
	}
	defer windows.LocalFree(windows.Handle(uintptr(unsafe.Pointer(argv))))

	args := make([]string, 0, argc)
	for _, p := range unsafe.Slice((**uint16)(unsafe.Pointer(argv)), argc) {
		if p != nil {
			args = append(args, windows.UTF16PtrToString(p))
		}
	}
	os.Args = args
}
