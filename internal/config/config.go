package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the full configuration structure
type Config struct {
	Image     ImageConfig     `mapstructure:"image" yaml:"image"`
	Container ContainerConfig `mapstructure:"container" yaml:"container"`
	Devices   DevicesConfig   `mapstructure:"devices" yaml:"devices"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Mounts    MountsConfig    `mapstructure:"mounts" yaml:"mounts"`
	Runtime   RuntimeConfig   `mapstructure:"runtime" yaml:"runtime"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	// WorkDir overrides the host directory bound at Mounts.Target.
	// Empty means the invoking user's current working directory.
	WorkDir string `mapstructure:"workdir" yaml:"workdir"`
}

// ImageConfig configures the image to run
type ImageConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// ContainerConfig configures the container instance
type ContainerConfig struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	Command     []string `mapstructure:"command" yaml:"command"`
	Interactive bool     `mapstructure:"interactive" yaml:"interactive"`
	AutoRemove  bool     `mapstructure:"auto_remove" yaml:"auto_remove"`
	Privileged  bool     `mapstructure:"privileged" yaml:"privileged"`
	Network     string   `mapstructure:"network" yaml:"network"`   // host, bridge, none
	IPC         string   `mapstructure:"ipc" yaml:"ipc"`           // host, private, shareable, none
	ShmSize     string   `mapstructure:"shm_size" yaml:"shm_size"` // e.g., "256G"
}

// DevicesConfig configures host device passthrough
type DevicesConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths"`
	// Required makes a missing device node a launch failure. When false the
	// device is reported and dropped.
	Required bool `mapstructure:"required" yaml:"required"`
}

// SecurityConfig configures privileges granted to the container
type SecurityConfig struct {
	Groups       []string `mapstructure:"groups" yaml:"groups"`
	Capabilities []string `mapstructure:"capabilities" yaml:"capabilities"`
	Options      []string `mapstructure:"options" yaml:"options"`
}

// MountsConfig configures bind mounts
type MountsConfig struct {
	Target string       `mapstructure:"target" yaml:"target"`
	Extra  []MountEntry `mapstructure:"extra" yaml:"extra"`
}

// MountEntry represents a single additional bind mount
type MountEntry struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Target   string `mapstructure:"target" yaml:"target"`
	ReadOnly bool   `mapstructure:"readonly" yaml:"readonly"`
}

// RuntimeConfig selects how the container runtime is driven
type RuntimeConfig struct {
	Binary  string `mapstructure:"binary" yaml:"binary"`
	Backend string `mapstructure:"backend" yaml:"backend"` // cli, api
	Exec    bool   `mapstructure:"exec" yaml:"exec"`
}

// LogConfig configures diagnostic logging
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// LoadConfig loads configuration from the global viper instance with defaults
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load unmarshals configuration from v after registering defaults on it
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// BindEnv wires DEVRUN_* environment variables to nested keys,
// e.g. DEVRUN_CONTAINER_SHM_SIZE -> container.shm_size.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("image.name", d.Image.Name)

	v.SetDefault("container.name", d.Container.Name)
	v.SetDefault("container.command", d.Container.Command)
	v.SetDefault("container.interactive", d.Container.Interactive)
	v.SetDefault("container.auto_remove", d.Container.AutoRemove)
	v.SetDefault("container.privileged", d.Container.Privileged)
	v.SetDefault("container.network", d.Container.Network)
	v.SetDefault("container.ipc", d.Container.IPC)
	v.SetDefault("container.shm_size", d.Container.ShmSize)

	v.SetDefault("devices.paths", d.Devices.Paths)
	v.SetDefault("devices.required", d.Devices.Required)

	v.SetDefault("security.groups", d.Security.Groups)
	v.SetDefault("security.capabilities", d.Security.Capabilities)
	v.SetDefault("security.options", d.Security.Options)

	v.SetDefault("mounts.target", d.Mounts.Target)
	v.SetDefault("mounts.extra", d.Mounts.Extra)

	v.SetDefault("runtime.binary", d.Runtime.Binary)
	v.SetDefault("runtime.backend", d.Runtime.Backend)
	v.SetDefault("runtime.exec", d.Runtime.Exec)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("workdir", d.WorkDir)
}

// Default returns the built-in configuration. Every call returns fresh slices.
func Default() *Config {
	return &Config{
		Image: ImageConfig{
			Name: DefaultImage,
		},
		Container: ContainerConfig{
			Name:        DefaultContainer,
			Command:     []string{DefaultShell},
			Interactive: true,
			AutoRemove:  true,
			Privileged:  true,
			Network:     NetworkHost,
			IPC:         IPCHost,
			ShmSize:     DefaultShmSize,
		},
		Devices: DevicesConfig{
			Paths:    []string{DeviceRender, DeviceCompute, DeviceInterconnect},
			Required: true,
		},
		Security: SecurityConfig{
			Groups:       []string{"video"},
			Capabilities: []string{"SYS_PTRACE"},
			Options:      []string{"seccomp=unconfined"},
		},
		Mounts: MountsConfig{
			Target: DefaultMountTarget,
			Extra:  []MountEntry{},
		},
		Runtime: RuntimeConfig{
			Binary:  DefaultRuntime,
			Backend: BackendCLI,
		},
		Log: LogConfig{
			Level: LogInfo,
		},
	}
}
