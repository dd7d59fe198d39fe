package main

import (
	"fmt"

	"github.com/aatumaykin/deferq/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Display the version, build time, git commit and Go version of deferq.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "deferq - deferred work queues")
		fmt.Fprintf(out, "Version: %s\n", version.Version)
		fmt.Fprintf(out, "Build Time: %s\n", version.BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", version.GitCommit)
		fmt.Fprintf(out, "Go Version: %s\n", version.GoVersion)
	},
}
