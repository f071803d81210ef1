package main

import (
	"fmt"
	"os"

	"github.com/jakenelson/devrun/internal/cli"
	"github.com/jakenelson/devrun/internal/launcher"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devrun: %v\n", err)
		os.Exit(launcher.ExitCode(err))
	}
}
