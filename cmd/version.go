package cmd

import (
	"fmt"
	gort "runtime"

	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nexus %s\n", version)
		fmt.Printf("  commit:  %s\n", gitCommit)
		fmt.Printf("  built:   %s\n", buildDate)
		fmt.Printf("  runtime: %s %s/%s\n", gort.Version(), gort.GOOS, gort.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
