// Package version reports the build information embedded in the binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// String returns a short build summary: module path, module version, and
// the Go toolchain that built the binary. Binaries built outside a module
// release report "(devel)".
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	v := info.Main.Version
	if v == "" {
		v = "(devel)"
	}
	return fmt.Sprintf("%s %s (%s)", info.Main.Path, v, info.GoVersion)
}
