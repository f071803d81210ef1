package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/moby/term"
	"golang.org/x/sys/unix"

	"github.com/jakenelson/devrun/internal/launcher"
)

// ForwardedSignals are relayed from the launcher to the runtime process
var ForwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// CLIRunner starts containers by running the runtime executable (docker or a
// compatible CLI) as a child process.
type CLIRunner struct {
	// Binary is the runtime executable name or path
	Binary string
	// Exec replaces the current process with the runtime instead of waiting on it
	Exec bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewCLIRunner creates a runner for binary wired to the process's stdio
func NewCLIRunner(binary string, logger *slog.Logger) *CLIRunner {
	return &CLIRunner{
		Binary: binary,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// Command returns the full argv used to start spec
func (r *CLIRunner) Command(spec launcher.LaunchSpec) []string {
	return append([]string{r.Binary}, RunArgs(spec)...)
}

// Start implements launcher.Runner
func (r *CLIRunner) Start(ctx context.Context, spec launcher.LaunchSpec) (launcher.Process, error) {
	logger := r.logger()

	path, err := exec.LookPath(r.Binary)
	if err != nil {
		return nil, invocationError(r.Binary, err)
	}

	args := RunArgs(spec)
	logger.Debug("Running container runtime", "cmd", FormatCommand(append([]string{path}, args...)))

	stdinTTY := r.stdinIsTerminal()
	if spec.InteractiveTTY && !stdinTTY {
		logger.Warn("Interactive TTY requested but stdin is not a terminal")
	}

	if r.Exec {
		// Only returns on failure
		err := unix.Exec(path, append([]string{r.Binary}, args...), os.Environ())
		return nil, invocationError(r.Binary, err)
	}

	// Not CommandContext: the child's lifetime is governed by forwarded
	// signals, not by the launcher's context.
	cmd := exec.Command(path, args...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if !(spec.InteractiveTTY && stdinTTY) {
		// In its own process group the child sees keyboard signals only
		// through forwardSignals. With -it on a terminal the runtime reads
		// them as raw input instead.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, ForwardedSignals...)

	if err := cmd.Start(); err != nil {
		signal.Stop(sigCh)
		return nil, invocationError(r.Binary, err)
	}

	p := &cliProcess{cmd: cmd, sigCh: sigCh, done: make(chan struct{}), logger: logger}
	go p.forwardSignals(ctx)
	return p, nil
}

func (r *CLIRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *CLIRunner) stdinIsTerminal() bool {
	f, ok := r.Stdin.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

type cliProcess struct {
	cmd    *exec.Cmd
	sigCh  chan os.Signal
	done   chan struct{}
	logger *slog.Logger
}

func (p *cliProcess) forwardSignals(ctx context.Context) {
	for {
		select {
		case sig := <-p.sigCh:
			p.logger.Debug("Forwarding signal to runtime", "signal", sig.String())
			if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("Failed to forward signal", "signal", sig.String(), "error", err)
			}
		case <-ctx.Done():
			// Cancellation is delivered like an interrupt from the terminal
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
			<-p.done
			return
		case <-p.done:
			return
		}
	}
}

// Wait implements launcher.Process
func (p *cliProcess) Wait() (launcher.ExitStatus, error) {
	err := p.cmd.Wait()
	signal.Stop(p.sigCh)
	close(p.done)

	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return launcher.ExitStatus(128 + int(ws.Signal())), nil
	}
	return launcher.ExitStatus(exitErr.ExitCode()), nil
}

// invocationError classifies a failure to start the runtime executable
func invocationError(binary string, err error) error {
	le := &launcher.Error{
		Kind:   launcher.KindRuntimeInvocation,
		Check:  "container runtime",
		Status: launcher.ExitFailure,
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		le.Status = launcher.ExitNotFound
		le.Err = fmt.Errorf("%s not found; install it or set runtime.binary: %w", binary, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.ENOEXEC):
		le.Status = launcher.ExitNotExecutable
		le.Err = fmt.Errorf("%s is not executable: %w", binary, err)
	default:
		le.Err = fmt.Errorf("failed to start %s: %w", binary, err)
	}
	return le
}

// RuntimeVersion returns the client version reported by the runtime executable
func RuntimeVersion(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "version", "--format", "{{.Client.Version}}")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}
