package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakenelson/devrun/internal/container"
)

var (
	// These are set at build time via ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "devrun version %s\n", Version)
		fmt.Fprintf(out, "  git commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  build date: %s\n", BuildDate)

		if cfg == nil || cfg.Runtime.Binary == "" {
			return
		}
		v, err := container.RuntimeVersion(cmd.Context(), cfg.Runtime.Binary)
		if err != nil {
			fmt.Fprintf(out, "  runtime:    %s (unavailable: %v)\n", cfg.Runtime.Binary, err)
			return
		}
		fmt.Fprintf(out, "  runtime:    %s %s\n", cfg.Runtime.Binary, v)
	},
}
