// Package version holds build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// String returns a one-line summary suitable for logs.
func String() string {
	return fmt.Sprintf("deferq %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}
