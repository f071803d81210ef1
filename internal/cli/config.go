package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jakenelson/devrun/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage devrun configuration",
	Long: `Manage devrun configuration settings.

Commands:
  list    List all configuration settings
  get     Get a configuration value
  set     Set a configuration value
  path    Show configuration file path
  init    Create default configuration file

Examples:
  devrun config list
  devrun config get container.shm_size
  devrun config set container.shm_size 64G
  devrun config set devices.paths /dev/kfd,/dev/dri`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		printSettingsFlat(cmd.OutOrStdout(), "", viper.AllSettings())
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !viper.IsSet(key) {
			return fmt.Errorf("key not found: %s", key)
		}
		value := viper.Get(key)
		// Handle nested maps by printing them in a readable format
		if m, ok := value.(map[string]interface{}); ok {
			printSettingsFlat(cmd.OutOrStdout(), key, m)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// Validate known keys
		if err := validateConfigKey(key, value); err != nil {
			return err
		}

		// Write to the file in use, or the default location
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			configPath = getConfigPath()
		}

		// Ensure config directory exists
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		// Update the value
		viper.Set(key, parseConfigValue(key, value))

		// Write config to file
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
			fmt.Fprintln(cmd.OutOrStdout(), cfgFile)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), getConfigPath())
		}
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := getConfigPath()
		configDir := filepath.Dir(configPath)

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s", configPath)
		}

		content, err := generateConfig(config.Default())
		if err != nil {
			return err
		}

		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configPath)
		return nil
	},
}

const configHeader = `# devrun configuration
#
# Every key can also be set with a DEVRUN_ environment variable, e.g.
# DEVRUN_CONTAINER_SHM_SIZE=64G, or with the matching command line flag.
#
# devices.paths entries take the form host[:container[:permissions]].
# workdir is the host directory bound at mounts.target (empty: current directory).

`

// generateConfig renders cfg as a commented YAML config file
func generateConfig(cfg *config.Config) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}

// printSettingsFlat prints settings in dot notation
func printSettingsFlat(w io.Writer, prefix string, settings map[string]interface{}) {
	// Collect keys and sort them for consistent output
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			printSettingsFlat(w, fullKey, nested)
		} else {
			fmt.Fprintf(w, "%s: %v\n", fullKey, value)
		}
	}
}

// validateConfigKey validates key/value pairs for known configuration keys
func validateConfigKey(key, value string) error {
	validations := map[string][]string{
		"container.network": {config.NetworkHost, config.NetworkBridge, config.NetworkNone},
		"container.ipc":     {config.IPCHost, config.IPCPrivate, config.IPCShareable, config.IPCNone},
		"runtime.backend":   {config.BackendCLI, config.BackendAPI},
		"log.level":         {config.LogDebug, config.LogInfo, config.LogWarn, config.LogError},
	}

	if key == "container.shm_size" {
		if _, err := units.RAMInBytes(value); err != nil {
			return fmt.Errorf("invalid value for %s: %s (%v)", key, value, err)
		}
		return nil
	}

	if allowed, exists := validations[key]; exists {
		for _, v := range allowed {
			if value == v {
				return nil
			}
		}
		return fmt.Errorf("invalid value for %s: %s (allowed: %s)", key, value, strings.Join(allowed, ", "))
	}
	return nil // Unknown keys pass through
}

// listKeys hold string lists; set accepts them comma separated
var listKeys = map[string]bool{
	"container.command":     true,
	"devices.paths":         true,
	"security.groups":       true,
	"security.capabilities": true,
	"security.options":      true,
}

// parseConfigValue converts a command line value to the type stored under key
func parseConfigValue(key, value string) interface{} {
	if listKeys[key] {
		if value == "" {
			return []string{}
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
