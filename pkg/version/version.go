package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var Version = "(dev)"

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok && len(bi.Main.Version) > 0 {
		Version = bi.Main.Version
	}
}

// String returns the human-readable version line.
func String() string {
	return fmt.Sprintf("loki version %s %s %s/%s", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
