package printer

import (
	"fmt"
	_ "runtime" // import link package
	_ "unsafe"  // required by go:linkname

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Version information, stamped at build time via -ldflags.
var (
	BuildTS   = "None"
	GitHash   = "None"
	GitBranch = "None"
)

//go:linkname buildVersion runtime.buildVersion
var buildVersion string

// PrintBuildInfo logs pgstatsmon's version information once at startup.
func PrintBuildInfo() {
	log.Info("starting pgstatsmon",
		zap.String("Git Commit Hash", GitHash),
		zap.String("Git Branch", GitBranch),
		zap.String("UTC Build Time", BuildTS),
		zap.String("GoVersion", buildVersion))
}

// GetBuildInfo returns the same information as a plain string.
func GetBuildInfo() string {
	return fmt.Sprintf("Git Commit Hash: %s\n"+
		"Git Branch: %s\n"+
		"UTC Build Time: %s\n"+
		"GoVersion: %s",
		GitHash,
		GitBranch,
		BuildTS,
		buildVersion)
}
