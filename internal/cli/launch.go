package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jakenelson/devrun/internal/config"
	"github.com/jakenelson/devrun/internal/container"
	"github.com/jakenelson/devrun/internal/launcher"
)

func runLaunch(cmd *cobra.Command, args []string) error {
	command, err := commandOverride(args, cmd.ArgsLenAtDash())
	if err != nil {
		return err
	}

	spec, err := resolveSpec(cfg, command)
	if err != nil {
		return err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		format, _ := cmd.Flags().GetString("output")
		return printDryRun(cmd.OutOrStdout(), cfg, spec, format)
	}

	runner, closeRunner, err := newRunner(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	l := launcher.New(runner, launcher.WithLogger(logger))
	_, err = l.Launch(cmd.Context(), spec)
	return err
}

// commandOverride returns the container command given after "--". Positional
// args before the separator are rejected so a mistyped subcommand is not run
// inside the container. argsLenAtDash is cobra's ArgsLenAtDash, -1 without "--".
func commandOverride(args []string, argsLenAtDash int) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if argsLenAtDash != 0 {
		return nil, &launcher.Error{
			Kind:  launcher.KindConfiguration,
			Check: "arguments",
			Err:   fmt.Errorf("unknown command %q for \"devrun\"; pass a container command after --, e.g. devrun -- %s", args[0], strings.Join(args, " ")),
		}
	}
	return args, nil
}

// resolveSpec builds the launch spec for the invoking process. Positional
// args replace the container command.
func resolveSpec(c *config.Config, args []string) (launcher.LaunchSpec, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return launcher.LaunchSpec{}, &launcher.Error{
			Kind:  launcher.KindMissingResource,
			Check: "working directory",
			Err:   fmt.Errorf("failed to get current directory: %w", err),
		}
	}
	home, _ := os.UserHomeDir()

	resolved := *c
	if len(args) > 0 {
		resolved.Container.Command = args
	}
	return launcher.BuildSpec(&resolved, launcher.Host{Cwd: cwd, Home: home}), nil
}

// newRunner returns the backend selected by runtime.backend and a func that
// releases it.
func newRunner(ctx context.Context, c *config.Config) (launcher.Runner, func(), error) {
	if err := checkRuntimeConfig(c); err != nil {
		return nil, nil, err
	}

	switch c.Runtime.Backend {
	case config.BackendAPI:
		runner, err := container.NewAPIRunner(ctx, logger)
		if err != nil {
			return nil, nil, err
		}
		return runner, func() { runner.Close() }, nil
	default:
		runner := container.NewCLIRunner(c.Runtime.Binary, logger)
		runner.Exec = c.Runtime.Exec
		return runner, func() {}, nil
	}
}

func checkRuntimeConfig(c *config.Config) error {
	switch c.Runtime.Backend {
	case config.BackendCLI:
		if c.Runtime.Binary == "" {
			return &launcher.Error{Kind: launcher.KindConfiguration, Check: "runtime", Err: fmt.Errorf("runtime.binary is empty")}
		}
	case config.BackendAPI:
		if c.Runtime.Exec {
			return &launcher.Error{Kind: launcher.KindConfiguration, Check: "runtime", Err: fmt.Errorf("exec mode requires the cli backend")}
		}
	default:
		return &launcher.Error{
			Kind:  launcher.KindConfiguration,
			Check: "runtime",
			Err:   fmt.Errorf("unknown backend %q (allowed: %s, %s)", c.Runtime.Backend, config.BackendCLI, config.BackendAPI),
		}
	}
	return nil
}

// printDryRun validates spec and prints what would be launched
func printDryRun(w io.Writer, c *config.Config, spec launcher.LaunchSpec, format string) error {
	if spec.DevicesOptional {
		spec = launcher.PruneDevices(spec, logger)
	}
	if err := launcher.Validate(spec); err != nil {
		return err
	}
	if err := checkRuntimeConfig(c); err != nil {
		return err
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(spec); err != nil {
			return fmt.Errorf("failed to encode spec: %w", err)
		}
		return enc.Close()
	case "text", "":
		argv := append([]string{c.Runtime.Binary}, container.RunArgs(spec)...)
		_, err := fmt.Fprintln(w, container.FormatCommand(argv))
		return err
	default:
		return &launcher.Error{Kind: launcher.KindConfiguration, Check: "output", Err: fmt.Errorf("unknown output format %q", format)}
	}
}
