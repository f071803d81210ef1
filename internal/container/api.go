package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/docker/docker/api/types"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/moby/term"
	"golang.org/x/sys/unix"

	"github.com/jakenelson/devrun/internal/launcher"
)

// DefaultDevicePermissions are the cgroup permissions granted to passed-through devices
const DefaultDevicePermissions = "rwm"

// APIRunner starts containers through the Docker Engine API
type APIRunner struct {
	client *client.Client
	logger *slog.Logger
}

// NewAPIRunner creates a runner connected to the engine described by the
// DOCKER_* environment.
func NewAPIRunner(ctx context.Context, logger *slog.Logger) (*APIRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, invocationError("docker engine", fmt.Errorf("failed to create Docker client: %w", err))
	}

	// Verify connection
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, invocationError("docker engine", fmt.Errorf("failed to connect to Docker: %w", err))
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &APIRunner{client: cli, logger: logger}, nil
}

// Close closes the Docker client
func (r *APIRunner) Close() error {
	return r.client.Close()
}

// APIConfig translates spec into engine create parameters. tty reports
// whether the launcher's stdin is a terminal.
func APIConfig(spec launcher.LaunchSpec, tty bool) (*containerTypes.Config, *containerTypes.HostConfig, error) {
	var shmSize int64
	if spec.ShmSize != "" {
		size, err := units.RAMInBytes(spec.ShmSize)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid shared memory size %q: %w", spec.ShmSize, err)
		}
		shmSize = size
	}

	var mounts []mount.Mount
	for _, b := range spec.Binds {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   b.Source,
			Target:   b.Target,
			ReadOnly: b.ReadOnly,
		})
	}

	var devices []containerTypes.DeviceMapping
	for _, d := range spec.Devices {
		m := containerTypes.DeviceMapping{
			PathOnHost:        d.HostPath,
			PathInContainer:   d.ContainerPath,
			CgroupPermissions: d.Permissions,
		}
		if m.PathInContainer == "" {
			m.PathInContainer = d.HostPath
		}
		if m.CgroupPermissions == "" {
			m.CgroupPermissions = DefaultDevicePermissions
		}
		devices = append(devices, m)
	}

	interactive := spec.InteractiveTTY
	containerConfig := &containerTypes.Config{
		Image:        spec.Image,
		Cmd:          strslice.StrSlice(spec.Command),
		Tty:          interactive && tty,
		OpenStdin:    interactive,
		StdinOnce:    interactive,
		AttachStdin:  interactive,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostConfig := &containerTypes.HostConfig{
		Mounts:      mounts,
		NetworkMode: containerTypes.NetworkMode(spec.NetworkMode),
		IpcMode:     containerTypes.IpcMode(spec.IPCMode),
		GroupAdd:    spec.GroupAdd,
		CapAdd:      strslice.StrSlice(spec.CapAdd),
		SecurityOpt: spec.SecurityOpts,
		Privileged:  spec.Privileged,
		ShmSize:     shmSize,
		AutoRemove:  spec.AutoRemove,
		Resources: containerTypes.Resources{
			Devices: devices,
		},
	}

	return containerConfig, hostConfig, nil
}

// Start implements launcher.Runner
func (r *APIRunner) Start(ctx context.Context, spec launcher.LaunchSpec) (launcher.Process, error) {
	isTTY := term.IsTerminal(os.Stdin.Fd())

	containerConfig, hostConfig, err := APIConfig(spec, isTTY)
	if err != nil {
		return nil, err
	}

	// Create the container
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, invocationError("docker engine", fmt.Errorf("image %q not found; build or pull it first: %w", spec.Image, err))
		}
		if errdefs.IsConflict(err) {
			return nil, invocationError("docker engine", fmt.Errorf("container name %q already in use: %w", spec.Name, err))
		}
		return nil, invocationError("docker engine", fmt.Errorf("failed to create container: %w", err))
	}
	containerID := resp.ID
	r.logger.Debug("Container created", "id", containerID, "name", spec.Name)

	attachResp, err := r.client.ContainerAttach(ctx, containerID, containerTypes.AttachOptions{
		Stream: true,
		Stdin:  containerConfig.AttachStdin,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		r.remove(containerID)
		return nil, invocationError("docker engine", fmt.Errorf("failed to attach to container: %w", err))
	}

	// Wait before start so an auto-removed container cannot vanish unobserved
	condition := containerTypes.WaitConditionNextExit
	if spec.AutoRemove {
		condition = containerTypes.WaitConditionRemoved
	}
	waitCtx, cancelWait := context.WithCancel(context.Background())
	statusCh, errCh := r.client.ContainerWait(waitCtx, containerID, condition)

	p := &apiProcess{
		runner:      r,
		ctx:         ctx,
		containerID: containerID,
		tty:         containerConfig.Tty,
		attach:      attachResp,
		statusCh:    statusCh,
		errCh:       errCh,
		cancelWait:  cancelWait,
		outputDone:  make(chan error, 1),
	}
	go p.copyOutput()

	if err := r.client.ContainerStart(ctx, containerID, containerTypes.StartOptions{}); err != nil {
		p.close()
		r.remove(containerID)
		return nil, invocationError("docker engine", fmt.Errorf("failed to start container: %w", err))
	}

	if err := p.setupTerminal(); err != nil {
		p.close()
		return nil, invocationError("docker engine", err)
	}
	go p.copyInput(containerConfig.AttachStdin)

	return p, nil
}

func (r *APIRunner) remove(containerID string) {
	_ = r.client.ContainerRemove(context.Background(), containerID, containerTypes.RemoveOptions{Force: true})
}

// resizeTty resizes the container TTY to match the current terminal size
func (r *APIRunner) resizeTty(ctx context.Context, containerID string) {
	winsize, err := term.GetWinsize(os.Stdout.Fd())
	if err != nil {
		return
	}
	_ = r.client.ContainerResize(ctx, containerID, containerTypes.ResizeOptions{
		Height: uint(winsize.Height),
		Width:  uint(winsize.Width),
	})
}

type apiProcess struct {
	runner      *APIRunner
	ctx         context.Context
	containerID string
	tty         bool

	attach     types.HijackedResponse
	statusCh   <-chan containerTypes.WaitResponse
	errCh      <-chan error
	cancelWait context.CancelFunc
	outputDone chan error

	oldState  *term.State
	closeOnce sync.Once
}

func (p *apiProcess) copyOutput() {
	var err error
	if p.tty {
		_, err = io.Copy(os.Stdout, p.attach.Reader)
	} else {
		_, err = stdcopy.StdCopy(os.Stdout, os.Stderr, p.attach.Reader)
	}
	p.outputDone <- err
}

func (p *apiProcess) copyInput(enabled bool) {
	if !enabled {
		return
	}
	_, _ = io.Copy(p.attach.Conn, os.Stdin)
	_ = p.attach.CloseWrite()
}

func (p *apiProcess) setupTerminal() error {
	if !p.tty {
		return nil
	}

	p.runner.resizeTty(p.ctx, p.containerID)

	oldState, err := term.SetRawTerminal(os.Stdin.Fd())
	if err != nil {
		return fmt.Errorf("failed to set raw terminal: %w", err)
	}
	p.oldState = oldState
	return nil
}

func (p *apiProcess) close() {
	p.closeOnce.Do(func() {
		if p.oldState != nil {
			_ = term.RestoreTerminal(os.Stdin.Fd(), p.oldState)
		}
		p.cancelWait()
		p.attach.Close()
	})
}

// Wait implements launcher.Process. Signals received while waiting are
// delivered to the container; window size changes resize its TTY.
func (p *apiProcess) Wait() (launcher.ExitStatus, error) {
	defer p.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append(ForwardedSignals, syscall.SIGWINCH)...)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			p.handleSignal(sig)
		case err := <-p.errCh:
			<-p.outputDone
			if err != nil && !errdefs.IsNotFound(err) {
				return 0, fmt.Errorf("error waiting for container: %w", err)
			}
			return 0, nil
		case status := <-p.statusCh:
			<-p.outputDone
			if status.Error != nil && status.Error.Message != "" {
				return launcher.ExitStatus(status.StatusCode), errors.New(status.Error.Message)
			}
			return launcher.ExitStatus(status.StatusCode), nil
		case <-p.ctx.Done():
			// Context cancelled, stop the container
			timeout := 5
			_ = p.runner.client.ContainerStop(context.Background(), p.containerID, containerTypes.StopOptions{Timeout: &timeout})
			return 0, p.ctx.Err()
		}
	}
}

func (p *apiProcess) handleSignal(sig os.Signal) {
	if sig == syscall.SIGWINCH {
		if p.tty {
			p.runner.resizeTty(p.ctx, p.containerID)
		}
		return
	}

	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	name := unix.SignalName(s)
	p.runner.logger.Debug("Forwarding signal to container", "signal", name)
	if err := p.runner.client.ContainerKill(context.Background(), p.containerID, name); err != nil {
		p.runner.logger.Warn("Failed to forward signal", "signal", name, "error", err)
	}
}
