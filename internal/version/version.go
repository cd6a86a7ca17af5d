// Package version provides build version information and runtime metadata.
package version

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// These are set via ldflags at build time:
//
//	-X github.com/j-veylop/limitwatch/internal/version.Version=1.2.0
var (
	Version = ""
	Commit  = ""
	Date    = ""

	once sync.Once

	git = runGit
)

const gitTimeout = 2 * time.Second

func ensureInitialized() {
	once.Do(func() {
		if Date == "" {
			Date = time.Now().Format("2006-01-02")
		}
		if Commit == "" {
			Commit = git("describe", "--always", "--dirty")
			if Commit == "" {
				Commit = "unknown"
			}
		}
		if Version == "" {
			Version = strings.TrimPrefix(git("describe", "--tags", "--abbrev=0"), "v")
			if Version == "" {
				Version = "dev"
			}
		}
	})
}

// runGit returns the trimmed output of git with args, or "" when git is
// unavailable or fails.
func runGit(args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Reset clears the values derived from git so they are computed again.
func Reset() {
	Version, Commit, Date = "", "", ""
	once = sync.Once{}
}

// GetVersion returns the release version, "dev" outside a tagged checkout.
func GetVersion() string {
	ensureInitialized()
	return Version
}

// GetCommit returns the commit the binary was built from.
func GetCommit() string {
	ensureInitialized()
	return Commit
}

// GetDate returns the build date.
func GetDate() string {
	ensureInitialized()
	return Date
}

// Info returns a one-line version banner.
func Info() string {
	ensureInitialized()
	return fmt.Sprintf("limitwatch %s (commit: %s, built: %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}
