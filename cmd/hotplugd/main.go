// Command hotplugd fetches plugin payloads from remote sources and runs
// them in a sandbox, at startup, on a schedule or on request.
package main

import (
	"os"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := NewRootCommand(version, commit, date).Execute(); err != nil {
		os.Exit(1)
	}
}
