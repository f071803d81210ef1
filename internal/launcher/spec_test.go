package launcher

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jakenelson/devrun/internal/config"
)

func TestBuildSpecDefaults(t *testing.T) {
	spec := BuildSpec(config.Default(), Host{Cwd: "/home/dev/aiter", Home: "/home/dev"})

	want := LaunchSpec{
		Image:          "dev-aiter",
		Name:           "dev-aiter",
		Command:        []string{"/bin/bash"},
		InteractiveTTY: true,
		AutoRemove:     true,
		Devices: []Device{
			{HostPath: "/dev/dri"},
			{HostPath: "/dev/kfd"},
			{HostPath: "/dev/infiniband"},
		},
		NetworkMode:  "host",
		IPCMode:      "host",
		GroupAdd:     []string{"video"},
		CapAdd:       []string{"SYS_PTRACE"},
		SecurityOpts: []string{"seccomp=unconfined"},
		Privileged:   true,
		Binds:        []Bind{{Source: "/home/dev/aiter", Target: "/aiter"}},
		ShmSize:      "256G",
	}

	if !reflect.DeepEqual(spec, want) {
		t.Errorf("BuildSpec() = %+v\nwant %+v", spec, want)
	}
}

func TestBuildSpecDeterministic(t *testing.T) {
	cfg := config.Default()
	host := Host{Cwd: "/src", Home: "/home/dev"}

	a := BuildSpec(cfg, host)
	b := BuildSpec(cfg, host)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("BuildSpec() not deterministic:\n%+v\n%+v", a, b)
	}

	// Specs must not alias the configuration
	a.CapAdd[0] = "NET_ADMIN"
	if cfg.Security.Capabilities[0] != "SYS_PTRACE" {
		t.Errorf("BuildSpec() aliases config slices")
	}
}

func TestBuildSpecOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.WorkDir = "~/projects/aiter"
	cfg.Image.Name = "dev-aiter:rocm6"
	cfg.Container.ShmSize = "16g"
	cfg.Devices.Paths = []string{"/dev/kfd:/dev/kfd:rw"}
	cfg.Devices.Required = false
	cfg.Mounts.Extra = []config.MountEntry{
		{Path: "data", ReadOnly: true},
		{Path: "/opt/rocm", Target: "/opt/rocm"},
	}

	spec := BuildSpec(cfg, Host{Cwd: "/src", Home: "/home/dev"})

	wantBinds := []Bind{
		{Source: "/home/dev/projects/aiter", Target: "/aiter"},
		{Source: "/src/data", Target: "/src/data", ReadOnly: true},
		{Source: "/opt/rocm", Target: "/opt/rocm"},
	}
	if !reflect.DeepEqual(spec.Binds, wantBinds) {
		t.Errorf("Binds = %+v, want %+v", spec.Binds, wantBinds)
	}
	if spec.Image != "dev-aiter:rocm6" || spec.ShmSize != "16g" {
		t.Errorf("image/shm = %q/%q", spec.Image, spec.ShmSize)
	}
	wantDev := Device{HostPath: "/dev/kfd", ContainerPath: "/dev/kfd", Permissions: "rw"}
	if len(spec.Devices) != 1 || spec.Devices[0] != wantDev {
		t.Errorf("Devices = %+v, want [%+v]", spec.Devices, wantDev)
	}
	if !spec.DevicesOptional {
		t.Error("DevicesOptional should follow devices.required=false")
	}
}

func TestDeviceAndBindString(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Device{HostPath: "/dev/kfd"}.String(), "/dev/kfd"},
		{Device{HostPath: "/dev/kfd", ContainerPath: "/dev/kfd0"}.String(), "/dev/kfd:/dev/kfd0"},
		{Device{HostPath: "/dev/kfd", ContainerPath: "/dev/kfd", Permissions: "rwm"}.String(), "/dev/kfd:/dev/kfd:rwm"},
		{Bind{Source: "/src", Target: "/aiter"}.String(), "/src:/aiter"},
		{Bind{Source: "/src", Target: "/aiter", ReadOnly: true}.String(), "/src:/aiter:ro"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}

	if d := ParseDevice("/dev/dri:/dev/dri:rwm"); d.String() != "/dev/dri:/dev/dri:rwm" {
		t.Errorf("ParseDevice round trip = %q", d.String())
	}
}

func TestValidate(t *testing.T) {
	existing := t.TempDir()
	missing := filepath.Join(existing, "does-not-exist")

	tests := []struct {
		name     string
		mutate   func(*LaunchSpec)
		wantKind Kind
		wantMsg  string
	}{
		{name: "valid", mutate: func(s *LaunchSpec) {}},
		{name: "empty image", mutate: func(s *LaunchSpec) { s.Image = "" }, wantKind: KindConfiguration, wantMsg: "image name"},
		{name: "malformed image", mutate: func(s *LaunchSpec) { s.Image = "Dev Aiter" }, wantKind: KindConfiguration, wantMsg: "image name"},
		{name: "empty container name", mutate: func(s *LaunchSpec) { s.Name = " " }, wantKind: KindConfiguration, wantMsg: "container name"},
		{name: "malformed container name", mutate: func(s *LaunchSpec) { s.Name = "-dev" }, wantKind: KindConfiguration, wantMsg: "container name"},
		{name: "empty command", mutate: func(s *LaunchSpec) { s.Command = nil }, wantKind: KindConfiguration, wantMsg: "command"},
		{name: "bad shm size", mutate: func(s *LaunchSpec) { s.ShmSize = "lots" }, wantKind: KindConfiguration, wantMsg: "shared memory size"},
		{name: "bad ipc mode", mutate: func(s *LaunchSpec) { s.IPCMode = "everything" }, wantKind: KindConfiguration, wantMsg: "ipc mode"},
		{name: "colon in mount source", mutate: func(s *LaunchSpec) { s.Binds[0].Source = filepath.Join(existing, "a:b") }, wantKind: KindConfiguration, wantMsg: "contains ':'"},
		{name: "colon in mount target", mutate: func(s *LaunchSpec) { s.Binds[0].Target = "/aiter:ro" }, wantKind: KindConfiguration, wantMsg: "contains ':'"},
		{name: "relative mount target", mutate: func(s *LaunchSpec) { s.Binds[0].Target = "aiter" }, wantKind: KindConfiguration, wantMsg: "bind mount"},
		{name: "bad device permissions", mutate: func(s *LaunchSpec) { s.Devices[0].ContainerPath = "/dev/x"; s.Devices[0].Permissions = "rwx" }, wantKind: KindConfiguration, wantMsg: "device"},
		{name: "missing bind source", mutate: func(s *LaunchSpec) { s.Binds[0].Source = missing }, wantKind: KindMissingResource, wantMsg: "bind mount source"},
		{name: "missing device", mutate: func(s *LaunchSpec) { s.Devices = append(s.Devices, Device{HostPath: missing}) }, wantKind: KindMissingResource, wantMsg: "device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := BuildSpec(config.Default(), Host{Cwd: existing})
			spec.Devices = []Device{{HostPath: "/dev/null"}}
			tt.mutate(&spec)

			err := Validate(spec)
			if tt.wantKind == KindUnknown {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("Validate() kind = %v (%v), want %v", got, err, tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() = %q, want mention of %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateColonInWorkDir(t *testing.T) {
	cwd := filepath.Join(t.TempDir(), "a:b")
	if err := os.Mkdir(cwd, 0755); err != nil {
		t.Fatal(err)
	}

	spec := BuildSpec(config.Default(), Host{Cwd: cwd})
	spec.Devices = nil

	err := Validate(spec)
	if got := KindOf(err); got != KindConfiguration {
		t.Fatalf("Validate() kind = %v (%v), want %v", got, err, KindConfiguration)
	}
	if ExitCode(err) != ExitInvalid {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitInvalid)
	}
}

func TestValidateBind(t *testing.T) {
	tests := []struct {
		bind    Bind
		wantErr bool
	}{
		{Bind{Source: "/home/dev/aiter", Target: "/aiter"}, false},
		{Bind{Source: "/home/dev/aiter", Target: "/aiter", ReadOnly: true}, false},
		{Bind{Source: "", Target: "/aiter"}, true},
		{Bind{Source: "/home/dev/a:b", Target: "/aiter"}, true},
		{Bind{Source: "/home/dev/aiter", Target: "aiter"}, true},
		{Bind{Source: "/home/dev/aiter", Target: "/aiter:z"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.bind.String(), func(t *testing.T) {
			err := ValidateBind(tt.bind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBind(%v) error = %v, wantErr %v", tt.bind, err, tt.wantErr)
			}
			if err != nil && KindOf(err) != KindConfiguration {
				t.Errorf("KindOf() = %v, want %v", KindOf(err), KindConfiguration)
			}
		})
	}
}

func TestValidateDeniedMount(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	spec := BuildSpec(config.Default(), Host{Cwd: t.TempDir()})
	spec.Devices = nil
	spec.Binds = append(spec.Binds, Bind{Source: filepath.Join(home, ".ssh"), Target: "/root/.ssh"})

	if got := KindOf(Validate(spec)); got != KindConfiguration {
		t.Errorf("Validate() kind = %v, want %v", got, KindConfiguration)
	}
}

func TestMissingDevices(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "kfd")
	errs := MissingDevices([]Device{{HostPath: "/dev/null"}, {HostPath: missing}})

	if len(errs) != 1 {
		t.Fatalf("MissingDevices() = %v, want 1 error", errs)
	}
	if !strings.Contains(errs[0].Error(), missing) {
		t.Errorf("MissingDevices() error %q does not name %s", errs[0], missing)
	}
}
