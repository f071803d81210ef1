// Package launcher turns configuration into a validated LaunchSpec and hands
// it to a container runtime backend exactly once.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runner starts the container runtime for a spec
type Runner interface {
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Process is a started container runtime invocation
type Process interface {
	// Wait blocks until the runtime exits and returns its exit status.
	// A non-zero status is not an error.
	Wait() (ExitStatus, error)
}

// Observer is notified of every state transition
type Observer func(from, to State)

// Option configures a Launcher
type Option func(*Launcher)

// WithLogger sets the logger used for lifecycle messages
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithObserver registers fn to receive state transitions
func WithObserver(fn Observer) Option {
	return func(l *Launcher) {
		l.observers = append(l.observers, fn)
	}
}

// Launcher validates a LaunchSpec and runs it through a Runner. A Launcher
// is single use: Launch may be called once.
type Launcher struct {
	runner    Runner
	logger    *slog.Logger
	observers []Observer

	mu    sync.Mutex
	state State
}

// New creates a launcher that starts containers with runner
func New(runner Runner, opts ...Option) *Launcher {
	l := &Launcher{
		runner: runner,
		logger: slog.Default(),
		state:  StateNotStarted,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle state
func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Launch validates spec, starts the runtime and waits for it to exit. The
// child's exit status is returned as-is; a non-zero status is also reported
// as a KindChildFailure error. Nothing is retried.
func (l *Launcher) Launch(ctx context.Context, spec LaunchSpec) (ExitStatus, error) {
	if err := l.transition(StateValidating); err != nil {
		return 0, err
	}

	if spec.DevicesOptional {
		spec = PruneDevices(spec, l.logger)
	}
	if err := Validate(spec); err != nil {
		l.fail(err)
		return 0, err
	}

	if err := l.transition(StateLaunching); err != nil {
		return 0, err
	}
	l.logger.Debug("Starting container", "image", spec.Image, "name", spec.Name)

	proc, err := l.runner.Start(ctx, spec)
	if err != nil {
		err = asInvocationError(err)
		l.fail(err)
		return 0, err
	}

	if err := l.transition(StateRunning); err != nil {
		return 0, err
	}

	status, err := proc.Wait()
	if err != nil {
		err = asInvocationError(err)
		l.fail(err)
		return status, err
	}

	if err := l.transition(StateExited); err != nil {
		return status, err
	}
	l.logger.Debug("Container exited", "name", spec.Name, "status", int(status))

	if status != 0 {
		return status, &Error{
			Kind:   KindChildFailure,
			Check:  "container runtime",
			Err:    fmt.Errorf("exited with code %d", status),
			Status: status,
		}
	}
	return status, nil
}

func (l *Launcher) transition(to State) error {
	l.mu.Lock()
	from := l.state
	if !canTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("invalid launcher state transition %s -> %s", from, to)
	}
	l.state = to
	l.mu.Unlock()

	l.logger.Debug("Launcher state", "from", from.String(), "to", to.String())
	for _, fn := range l.observers {
		fn(from, to)
	}
	return nil
}

func (l *Launcher) fail(err error) {
	_ = l.transition(StateFailed)
	l.logger.Debug("Launch failed", "error", err)
}

// asInvocationError keeps classified errors and marks the rest as runtime
// invocation failures.
func asInvocationError(err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: KindRuntimeInvocation, Check: "container runtime", Err: err}
}
