package launcher

import (
	"slices"
	"strings"

	"github.com/jakenelson/devrun/internal/config"
	"github.com/jakenelson/devrun/internal/hostpath"
)

// LaunchSpec is the resolved set of options handed to the container runtime
type LaunchSpec struct {
	Image          string   `yaml:"image"`
	Name           string   `yaml:"name"`
	Command        []string `yaml:"command"`
	InteractiveTTY bool     `yaml:"interactive_tty"`
	AutoRemove     bool     `yaml:"auto_remove"`
	Devices        []Device `yaml:"devices"`
	NetworkMode    string   `yaml:"network_mode"`
	IPCMode        string   `yaml:"ipc_mode"`
	GroupAdd       []string `yaml:"group_add"`
	CapAdd         []string `yaml:"cap_add"`
	SecurityOpts   []string `yaml:"security_opts"`
	Privileged     bool     `yaml:"privileged"`
	Binds          []Bind   `yaml:"binds"`
	ShmSize        string   `yaml:"shm_size"`

	// DevicesOptional downgrades missing device nodes from a launch failure
	// to a warning; the missing nodes are dropped.
	DevicesOptional bool `yaml:"devices_optional"`
}

// Device is a host device node exposed inside the container
type Device struct {
	HostPath      string `yaml:"host_path"`
	ContainerPath string `yaml:"container_path,omitempty"`
	Permissions   string `yaml:"permissions,omitempty"`
}

// String renders the device in the runtime's host[:container[:permissions]] form
func (d Device) String() string {
	s := d.HostPath
	if d.ContainerPath != "" {
		s += ":" + d.ContainerPath
		if d.Permissions != "" {
			s += ":" + d.Permissions
		}
	}
	return s
}

// ParseDevice parses host[:container[:permissions]]
func ParseDevice(s string) Device {
	parts := strings.SplitN(s, ":", 3)
	d := Device{HostPath: parts[0]}
	if len(parts) > 1 {
		d.ContainerPath = parts[1]
	}
	if len(parts) > 2 {
		d.Permissions = parts[2]
	}
	return d
}

// Bind maps a host directory into the container
type Bind struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readonly,omitempty"`
}

// String renders the bind in the runtime's -v source:target[:ro] form
func (b Bind) String() string {
	s := b.Source + ":" + b.Target
	if b.ReadOnly {
		s += ":ro"
	}
	return s
}

// Host carries the invoking process's view of the host needed to resolve
// relative and ~-prefixed paths.
type Host struct {
	Cwd  string
	Home string
}

// BuildSpec derives a LaunchSpec from cfg. It performs no I/O, so identical
// inputs always produce identical specs.
func BuildSpec(cfg *config.Config, host Host) LaunchSpec {
	workDir := host.Cwd
	if cfg.WorkDir != "" {
		workDir = hostpath.Resolve(cfg.WorkDir, host.Cwd, host.Home)
	}

	binds := []Bind{{Source: workDir, Target: cfg.Mounts.Target}}
	for _, m := range cfg.Mounts.Extra {
		source := hostpath.Resolve(m.Path, host.Cwd, host.Home)
		target := m.Target
		if target == "" {
			target = source
		}
		binds = append(binds, Bind{Source: source, Target: target, ReadOnly: m.ReadOnly})
	}

	devices := make([]Device, 0, len(cfg.Devices.Paths))
	for _, p := range cfg.Devices.Paths {
		devices = append(devices, ParseDevice(p))
	}

	return LaunchSpec{
		Image:           cfg.Image.Name,
		Name:            cfg.Container.Name,
		Command:         slices.Clone(cfg.Container.Command),
		InteractiveTTY:  cfg.Container.Interactive,
		AutoRemove:      cfg.Container.AutoRemove,
		Devices:         devices,
		NetworkMode:     cfg.Container.Network,
		IPCMode:         cfg.Container.IPC,
		GroupAdd:        slices.Clone(cfg.Security.Groups),
		CapAdd:          slices.Clone(cfg.Security.Capabilities),
		SecurityOpts:    slices.Clone(cfg.Security.Options),
		Privileged:      cfg.Container.Privileged,
		Binds:           binds,
		ShmSize:         cfg.Container.ShmSize,
		DevicesOptional: !cfg.Devices.Required,
	}
}
