// pkg/extract/exe.go - file version resource reads via version.dll.

package extract

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// FileVersion returns the four-part version from a PE file's version
// resource, or "" when the file carries none. Executables without a
// version resource are common enough that absence is not an error.
func FileVersion(path string) string {
	size, err := windows.GetFileVersionInfoSize(path, nil)
	if err != nil || size == 0 {
		return ""
	}

	buf := make([]byte, size)
	if err := windows.GetFileVersionInfo(path, 0, size, unsafe.Pointer(&buf[0])); err != nil {
		return ""
	}

	var fixed *windows.VS_FIXEDFILEINFO
	var fixedLen uint32
	if err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), `\`, unsafe.Pointer(&fixed), &fixedLen); err != nil {
		return ""
	}
	if fixedLen == 0 || fixed == nil {
		return ""
	}

	return fmt.Sprintf("%d.%d.%d.%d",
		fixed.FileVersionMS>>16, fixed.FileVersionMS&0xffff,
		fixed.FileVersionLS>>16, fixed.FileVersionLS&0xffff)
}
