package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jakenelson/devrun/internal/config"
	"github.com/jakenelson/devrun/internal/logging"
)

var (
	cfgFile   string
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "devrun [flags] [-- command...]",
	Short: "Start the dev-aiter development container with GPU passthrough",
	Long: `Devrun starts the dev-aiter development container with the accelerator
devices, host networking and IPC, debugging privileges and shared memory it
needs, and binds your working directory at /aiter. The container is removed
when the session ends.

Examples:
  devrun                                # Interactive shell in the current directory
  devrun -w ~/src/aiter                 # Bind another directory at /aiter
  devrun --shm-size 64G                 # Smaller shared memory allocation
  devrun --image dev-aiter:rocm6.4      # Different image tag
  devrun --dry-run                      # Print the docker command line
  devrun -- python3 op_tests/test_mla.py  # Run a command instead of bash`,
	Args:              cobra.ArbitraryArgs,
	PersistentPreRunE: setup,
	RunE:              runLaunch,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command. The returned error carries the process
// exit code, see launcher.ExitCode.
func Execute() error {
	err := rootCmd.Execute()
	closeLog()
	return err
}

// closeLog closes the log file opened by setup, whether or not the command
// succeeded.
func closeLog() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/devrun/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file (rotated)")

	// Launch spec flags, shared with check
	rootCmd.PersistentFlags().StringP("workdir", "w", "", "host directory to bind at the mount target (default: current directory)")
	rootCmd.PersistentFlags().String("image", "", "image to run (default: dev-aiter)")
	rootCmd.PersistentFlags().String("name", "", "container name (default: dev-aiter)")
	rootCmd.PersistentFlags().String("shm-size", "", "shared memory size (default: 256G)")
	rootCmd.PersistentFlags().String("runtime", "", "container runtime executable (default: docker)")
	rootCmd.PersistentFlags().String("backend", "", "runtime backend: cli, api (default: cli)")

	// Launch flags
	rootCmd.Flags().Bool("exec", false, "replace devrun with the runtime process instead of waiting on it")
	rootCmd.Flags().Bool("dry-run", false, "validate and print the runtime command line without launching")
	rootCmd.Flags().StringP("output", "o", "text", "dry-run output format: text, yaml")

	// Bind flags to viper for config integration
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("workdir", rootCmd.PersistentFlags().Lookup("workdir"))
	viper.BindPFlag("image.name", rootCmd.PersistentFlags().Lookup("image"))
	viper.BindPFlag("container.name", rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag("container.shm_size", rootCmd.PersistentFlags().Lookup("shm-size"))
	viper.BindPFlag("runtime.binary", rootCmd.PersistentFlags().Lookup("runtime"))
	viper.BindPFlag("runtime.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("runtime.exec", rootCmd.Flags().Lookup("exec"))
}

// setup loads configuration and the logger before any command runs
func setup(cmd *cobra.Command, args []string) error {
	if err := initConfig(); err != nil {
		return err
	}

	l, closer, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, logCloser = l, closer
	slog.SetDefault(logger)

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("Loaded config file", "path", used)
	}
	return nil
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", config.DefaultConfigSubdir))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	config.BindEnv(viper.GetViper())

	// Read config file (ignore if not found)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Load into config struct
	loaded, err := config.LoadConfig()
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// getConfigPath returns the default config file path
func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", config.DefaultConfigSubdir, "config.yaml")
}
