package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the factory version and build revision",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "issuefactory %s\n", versionString(version, readRevision()))
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		}
	},
}

// versionString appends a short VCS revision, marking dirty builds.
func versionString(v string, rev revision) string {
	if rev.sha == "" {
		return v
	}
	sha := rev.sha
	if len(sha) > 12 {
		sha = sha[:12]
	}
	if rev.dirty {
		sha += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", v, sha)
}

type revision struct {
	sha   string
	dirty bool
}

func readRevision() revision {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return revision{}
	}
	var rev revision
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev.sha = s.Value
		case "vcs.modified":
			rev.dirty = s.Value == "true"
		}
	}
	return rev
}
