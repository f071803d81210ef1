package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakenelson/devrun/internal/config"
)

type fakeProcess struct {
	status ExitStatus
	err    error
}

func (p *fakeProcess) Wait() (ExitStatus, error) {
	return p.status, p.err
}

type fakeRunner struct {
	calls    int
	specs    []LaunchSpec
	status   ExitStatus
	startErr error
	waitErr  error
}

func (r *fakeRunner) Start(_ context.Context, spec LaunchSpec) (Process, error) {
	r.calls++
	r.specs = append(r.specs, spec)
	if r.startErr != nil {
		return nil, r.startErr
	}
	return &fakeProcess{status: r.status, err: r.waitErr}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// validSpec returns the default spec with host-independent devices
func validSpec(t *testing.T) LaunchSpec {
	t.Helper()
	spec := BuildSpec(config.Default(), Host{Cwd: t.TempDir(), Home: "/home/dev"})
	spec.Devices = []Device{{HostPath: "/dev/null"}}
	return spec
}

func TestLaunchSuccess(t *testing.T) {
	runner := &fakeRunner{}
	var seen []State
	l := New(runner, WithLogger(quietLogger()), WithObserver(func(_, to State) {
		seen = append(seen, to)
	}))

	status, err := l.Launch(context.Background(), validSpec(t))
	require.NoError(t, err)
	assert.Equal(t, ExitStatus(0), status)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, StateExited, l.State())
	assert.Equal(t, []State{StateValidating, StateLaunching, StateRunning, StateExited}, seen)
}

func TestLaunchMissingDeviceStartsNothing(t *testing.T) {
	runner := &fakeRunner{}
	l := New(runner, WithLogger(quietLogger()))

	spec := validSpec(t)
	spec.Devices = append(spec.Devices, Device{HostPath: filepath.Join(t.TempDir(), "kfd")})

	_, err := l.Launch(context.Background(), spec)
	require.Error(t, err)
	assert.Equal(t, KindMissingResource, KindOf(err))
	assert.Equal(t, ExitInvalid, ExitCode(err))
	assert.Zero(t, runner.calls, "runtime must not be started")
	assert.Equal(t, StateFailed, l.State())
}

func TestLaunchOptionalDevicesArePruned(t *testing.T) {
	runner := &fakeRunner{}
	l := New(runner, WithLogger(quietLogger()))

	spec := validSpec(t)
	spec.DevicesOptional = true
	spec.Devices = append(spec.Devices, Device{HostPath: filepath.Join(t.TempDir(), "kfd")})

	_, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, runner.specs, 1)
	assert.Equal(t, []Device{{HostPath: "/dev/null"}}, runner.specs[0].Devices)
}

func TestLaunchRelaysChildStatus(t *testing.T) {
	runner := &fakeRunner{status: 137}
	l := New(runner, WithLogger(quietLogger()))

	status, err := l.Launch(context.Background(), validSpec(t))
	require.Error(t, err)
	assert.Equal(t, ExitStatus(137), status)
	assert.Equal(t, KindChildFailure, KindOf(err))
	assert.Equal(t, 137, ExitCode(err))
	assert.Equal(t, 1, runner.calls, "failed launches are not retried")
	assert.Equal(t, StateExited, l.State())
}

func TestLaunchStartError(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("exec: \"docker\": executable file not found in $PATH")}
	l := New(runner, WithLogger(quietLogger()))

	_, err := l.Launch(context.Background(), validSpec(t))
	require.Error(t, err)
	assert.Equal(t, KindRuntimeInvocation, KindOf(err))
	assert.ErrorIs(t, err, runner.startErr)
	assert.Equal(t, StateFailed, l.State())
}

func TestLaunchKeepsClassifiedStartError(t *testing.T) {
	classified := &Error{Kind: KindRuntimeInvocation, Check: "container runtime", Err: errors.New("not found"), Status: ExitNotFound}
	l := New(&fakeRunner{startErr: classified}, WithLogger(quietLogger()))

	_, err := l.Launch(context.Background(), validSpec(t))
	assert.Equal(t, ExitNotFound, ExitCode(err))
}

func TestLaunchWaitError(t *testing.T) {
	l := New(&fakeRunner{waitErr: errors.New("connection reset")}, WithLogger(quietLogger()))

	_, err := l.Launch(context.Background(), validSpec(t))
	assert.Equal(t, KindRuntimeInvocation, KindOf(err))
	assert.Equal(t, StateFailed, l.State())
}

func TestLaunchIsSingleUse(t *testing.T) {
	runner := &fakeRunner{}
	l := New(runner, WithLogger(quietLogger()))

	_, err := l.Launch(context.Background(), validSpec(t))
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), validSpec(t))
	require.Error(t, err)
	assert.Equal(t, 1, runner.calls)
}

func TestLaunchTwiceWithFreshLaunchers(t *testing.T) {
	runner := &fakeRunner{}
	spec := validSpec(t)
	require.True(t, spec.AutoRemove)

	for i := 0; i < 2; i++ {
		_, err := New(runner, WithLogger(quietLogger())).Launch(context.Background(), spec)
		require.NoError(t, err, "run %d", i+1)
	}
	assert.Equal(t, 2, runner.calls)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateExited.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, canTransition(StateExited, StateValidating))
	assert.False(t, canTransition(StateValidating, StateRunning))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), ExitFailure},
		{"configuration", &Error{Kind: KindConfiguration, Err: errors.New("x")}, ExitInvalid},
		{"missing", &Error{Kind: KindMissingResource, Err: errors.New("x")}, ExitInvalid},
		{"child", &Error{Kind: KindChildFailure, Err: errors.New("x"), Status: 3}, 3},
		{"invocation not executable", &Error{Kind: KindRuntimeInvocation, Err: errors.New("x"), Status: ExitNotExecutable}, ExitNotExecutable},
		{"invocation", &Error{Kind: KindRuntimeInvocation, Err: errors.New("x")}, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
