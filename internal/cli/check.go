package cli

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/jakenelson/devrun/internal/config"
	"github.com/jakenelson/devrun/internal/hostpath"
	"github.com/jakenelson/devrun/internal/launcher"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the host can launch the dev container",
	Long: `Check builds the launch spec from your configuration and reports, without
starting anything:

- each device node to pass through and whether it exists
- each bind mount source and whether it is readable
- whether the container runtime executable can be found

The exit code is non-zero when a launch would fail validation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := resolveSpec(cfg, nil)
		if err != nil {
			return err
		}
		return runCheck(cmd.OutOrStdout(), cfg, spec)
	},
}

func runCheck(w io.Writer, c *config.Config, spec launcher.LaunchSpec) error {
	fmt.Fprintf(w, "Image:     %s\n", spec.Image)
	fmt.Fprintf(w, "Container: %s\n", spec.Name)

	fmt.Fprintln(w, "\nDevices")
	fmt.Fprintln(w, "-------")
	if len(spec.Devices) == 0 {
		fmt.Fprintln(w, "   (none)")
	}
	for _, d := range spec.Devices {
		if err := hostpath.CheckDevice(d.HostPath); err != nil {
			marker := "❌"
			if spec.DevicesOptional {
				marker = "⚠️ "
			}
			fmt.Fprintf(w, "%s %s: %v\n", marker, d.HostPath, err)
			continue
		}
		fmt.Fprintf(w, "✅ %s\n", d.HostPath)
	}

	fmt.Fprintln(w, "\nMounts")
	fmt.Fprintln(w, "------")
	for _, b := range spec.Binds {
		if err := launcher.ValidateBind(b); err != nil {
			fmt.Fprintf(w, "❌ %s -> %s: %v\n", b.Source, b.Target, err)
			continue
		}
		if err := hostpath.CheckReadable(b.Source); err != nil {
			fmt.Fprintf(w, "❌ %s -> %s: %v\n", b.Source, b.Target, err)
			continue
		}
		fmt.Fprintf(w, "✅ %s -> %s\n", b.Source, b.Target)
	}

	fmt.Fprintln(w, "\nRuntime")
	fmt.Fprintln(w, "-------")
	if err := checkRuntimeConfig(c); err != nil {
		fmt.Fprintf(w, "❌ %v\n", err)
		return err
	}
	if c.Runtime.Backend == config.BackendCLI {
		if path, err := exec.LookPath(c.Runtime.Binary); err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", c.Runtime.Binary, err)
		} else {
			fmt.Fprintf(w, "✅ %s\n", path)
		}
	} else {
		fmt.Fprintln(w, "   Docker Engine API (DOCKER_HOST)")
	}

	if spec.DevicesOptional {
		spec = launcher.PruneDevices(spec, logger)
	}
	if err := launcher.Validate(spec); err != nil {
		fmt.Fprintf(w, "\n❌ Launch would fail: %v\n", err)
		return err
	}

	fmt.Fprintln(w, "\n✨ Ready to launch.")
	return nil
}
