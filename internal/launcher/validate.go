package launcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/go-units"
	"github.com/samber/oops"

	"github.com/jakenelson/devrun/internal/hostpath"
)

// validContainerName mirrors the runtime's container name grammar
var validContainerName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

var validIPCModes = map[string]bool{
	"":          true,
	"host":      true,
	"private":   true,
	"shareable": true,
	"none":      true,
}

// Validate checks spec before anything is started. Identifiers and options
// are checked first, then bind mount sources, then device nodes.
func Validate(spec LaunchSpec) error {
	if err := validateOptions(spec); err != nil {
		return err
	}
	if err := validateBinds(spec.Binds); err != nil {
		return err
	}
	if missing := MissingDevices(spec.Devices); len(missing) > 0 && !spec.DevicesOptional {
		return missing[0]
	}
	return nil
}

func validateOptions(spec LaunchSpec) error {
	errs := oops.In("validate")

	if strings.TrimSpace(spec.Image) == "" {
		return configError("image name", errs.Errorf("image name is empty"))
	}
	if _, err := reference.ParseNormalizedNamed(spec.Image); err != nil {
		return configError("image name", errs.With("image", spec.Image).Wrapf(err, "invalid image reference %q", spec.Image))
	}

	if strings.TrimSpace(spec.Name) == "" {
		return configError("container name", errs.Errorf("container name is empty"))
	}
	if !validContainerName.MatchString(spec.Name) {
		return configError("container name", errs.With("name", spec.Name).Errorf("invalid container name %q, must match %s", spec.Name, validContainerName))
	}

	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return configError("command", errs.Errorf("command is empty"))
	}

	if spec.ShmSize != "" {
		if _, err := units.RAMInBytes(spec.ShmSize); err != nil {
			return configError("shared memory size", errs.With("shm_size", spec.ShmSize).Wrapf(err, "invalid size %q", spec.ShmSize))
		}
	}

	if strings.ContainsAny(spec.NetworkMode, " \t\n") {
		return configError("network mode", errs.Errorf("invalid network mode %q", spec.NetworkMode))
	}
	if !validIPCModes[spec.IPCMode] && !strings.HasPrefix(spec.IPCMode, "container:") {
		return configError("ipc mode", errs.Errorf("invalid ipc mode %q", spec.IPCMode))
	}

	for _, d := range spec.Devices {
		if d.HostPath == "" {
			return configError("device", errs.Errorf("device host path is empty"))
		}
		if d.ContainerPath != "" && !path.IsAbs(d.ContainerPath) {
			return configError("device", errs.With("device", d.String()).Errorf("container path %q is not absolute", d.ContainerPath))
		}
		if strings.Trim(d.Permissions, "rwm") != "" {
			return configError("device", errs.With("device", d.String()).Errorf("invalid cgroup permissions %q", d.Permissions))
		}
	}

	for _, b := range spec.Binds {
		if err := ValidateBind(b); err != nil {
			return err
		}
	}

	return nil
}

// ValidateBind checks that b names a source and an absolute target and that
// it renders unambiguously as a -v source:target[:ro] value.
func ValidateBind(b Bind) error {
	errs := oops.In("validate").With("bind", b.String())

	if b.Source == "" {
		return configError("bind mount", errs.Errorf("bind mount source is empty"))
	}
	if strings.Contains(b.Source, ":") {
		return configError("bind mount", errs.Errorf("mount source %q contains ':'", b.Source))
	}
	if !path.IsAbs(b.Target) {
		return configError("bind mount", errs.Errorf("mount target %q is not absolute", b.Target))
	}
	if strings.Contains(b.Target, ":") {
		return configError("bind mount", errs.Errorf("mount target %q contains ':'", b.Target))
	}
	return nil
}

func validateBinds(binds []Bind) error {
	for _, b := range binds {
		if err := hostpath.CheckDenied(b.Source); err != nil {
			return configError("bind mount source", oops.With("source", b.Source).Wrapf(err, "refusing to mount %s", b.Source))
		}
		if err := hostpath.CheckReadable(b.Source); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return missingError("bind mount source", oops.With("source", b.Source).Wrapf(err, "host path %s does not exist", b.Source))
			}
			return missingError("bind mount source", oops.With("source", b.Source).Wrapf(err, "host path %s is not readable", b.Source))
		}
	}
	return nil
}

// MissingDevices returns one MissingResourceError per device whose host
// path is absent or not a device node.
func MissingDevices(devices []Device) []error {
	var missing []error
	for _, d := range devices {
		if err := hostpath.CheckDevice(d.HostPath); err != nil {
			missing = append(missing, missingError("device", oops.With("device", d.HostPath).Wrapf(err, "device %s unavailable", d.HostPath)))
		}
	}
	return missing
}

// PruneDevices drops devices whose host path is unavailable, logging each
// one. The returned spec shares nothing with spec's device slice.
func PruneDevices(spec LaunchSpec, logger *slog.Logger) LaunchSpec {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]Device, 0, len(spec.Devices))
	for _, d := range spec.Devices {
		if err := hostpath.CheckDevice(d.HostPath); err != nil {
			logger.Warn("Skipping unavailable device", "device", d.HostPath, "error", err)
			continue
		}
		kept = append(kept, d)
	}
	spec.Devices = kept
	return spec
}

func configError(check string, err error) *Error {
	return &Error{Kind: KindConfiguration, Check: check, Err: err}
}

func missingError(check string, err error) *Error {
	return &Error{Kind: KindMissingResource, Check: check, Err: err}
}
