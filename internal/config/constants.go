package config

// Default launch values, matching the hand-written dev container invocation.
const (
	DefaultImage        = "dev-aiter"
	DefaultContainer    = "dev-aiter"
	DefaultMountTarget  = "/aiter"
	DefaultShmSize      = "256G"
	DefaultShell        = "/bin/bash"
	DefaultRuntime      = "docker"
	DefaultConfigSubdir = "devrun"
	EnvPrefix           = "DEVRUN"
)

// Host device nodes passed through by default: GPU render node,
// compute accelerator node, interconnect node.
const (
	DeviceRender       = "/dev/dri"
	DeviceCompute      = "/dev/kfd"
	DeviceInterconnect = "/dev/infiniband"
)

// Network and IPC namespace modes
const (
	NetworkBridge = "bridge"
	NetworkHost   = "host"
	NetworkNone   = "none"

	IPCHost      = "host"
	IPCPrivate   = "private"
	IPCShareable = "shareable"
	IPCNone      = "none"
)

// Runtime backends
const (
	BackendCLI = "cli"
	BackendAPI = "api"
)

// Log levels
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)
