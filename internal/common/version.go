package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Build metadata, injected with -ldflags at release time.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the release version of this binary.
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with build metadata, used by the
// version endpoint and crash reports.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build %s, commit %s)", Version, Build, GitCommit)
}

// LoadVersionFromFile overrides Version from a .version file next to the
// executable when one exists; deployments drop the file beside the binary.
func LoadVersionFromFile() string {
	exe, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exe), ".version"))
	if err != nil {
		return Version
	}

	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
