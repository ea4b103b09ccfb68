package cli

import (
	"fmt"
	"runtime"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time with -ldflags.
	Version = "DEV"
	// BuildDate is injected at build time with -ldflags.
	BuildDate = "" // YYYY-MM-DD
)

func versionCmd(tool string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: heredoc.Docf("Display the %s version", tool),
		Args:  cobra.NoArgs,

		ValidArgsFunction: cobra.NoFileCompletions,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString(tool, Version, BuildDate, runtime.Version()))
		},
	}
}

func versionString(tool, version, buildDate, runtimeVersion string) string {
	out := tool + " " + version
	if buildDate != "" {
		out += " (" + buildDate + ")"
	}
	return out + ", Go Version: " + runtimeVersion
}
