package proc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

// Spec describes how to launch one worker process.
type Spec struct {
	// Command is the worker executable. Extra argv, the protocol selector,
	// and the command-set selector are appended in that order, so the child
	// sees: <command> <args...> <codec> <command-set>.
	Command    string
	Args       []string
	Codec      string
	CommandSet string

	// Env entries overlay the parent environment.
	Env map[string]string
	Dir string

	// SearchPaths are prepended to PathVar (default BOXPOOL_PATH) in the
	// child environment; existing entries are kept after them.
	SearchPaths []string
	PathVar     string

	// User/Group optionally drop privileges for the child (POSIX only).
	User  string
	Group string

	// UseStdio reuses stdin/stdout for the protocol instead of the
	// dedicated fd 3/4 pair. Forced on platforms without fd inheritance.
	UseStdio bool
}

// DefaultPathVar is the environment variable extended with SearchPaths.
const DefaultPathVar = "BOXPOOL_PATH"

// EnvStdio is set to "1" in the child environment when the protocol rides
// stdin/stdout; the stock worker binary keys its transport off it.
const EnvStdio = "BOXPOOL_STDIO"

const defaultCodec = "box"
const defaultCommandSet = "standard"

// Process is one live child: its protocol transport plus exit tracking.
// Done closes after the process has exited and Err holds the exit reason.
type Process struct {
	pid       int
	cmd       *exec.Cmd
	transport *transport
	logger    *slog.Logger

	done    chan struct{}
	exitErr error
}

// Start launches the process described by spec and wires its protocol
// channels. A spawn failure returns immediately with no process registered.
func Start(spec Spec, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	codec := spec.Codec
	if codec == "" {
		codec = defaultCodec
	}
	commandSet := spec.CommandSet
	if commandSet == "" {
		commandSet = defaultCommandSet
	}
	useStdio := spec.UseStdio || runtime.GOOS == "windows"

	argv := append(append([]string{}, spec.Args...), codec, commandSet)
	cmd := exec.Command(spec.Command, argv...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec, useStdio)

	if err := applyCredential(cmd, spec.User, spec.Group); err != nil {
		return nil, fmt.Errorf("apply credential: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}

	var hostSide []io.Closer  // our ends, closed when the child exits
	var childSide []io.Closer // child's ends, closed after fork

	if useStdio {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		p.transport = &transport{w: stdin, r: stdout}
	} else {
		// Host-to-child pipe lands on child fd 3, child-to-host on fd 4.
		childR, hostW, err := osPipe()
		if err != nil {
			return nil, err
		}
		hostR, childW, err := osPipe()
		if err != nil {
			childR.Close()
			hostW.Close()
			return nil, err
		}
		cmd.ExtraFiles = []*os.File{childR, childW}
		childSide = append(childSide, childR, childW)
		hostSide = append(hostSide, hostW, hostR)
		p.transport = &transport{w: hostW, r: hostR}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			closeAll(childSide, hostSide)
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		go pumpLines(stdout, logger, slog.LevelDebug, "worker stdout")
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(childSide, hostSide)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(childSide, hostSide)
		return nil, fmt.Errorf("start process: %w", err)
	}
	// The child owns its copies now.
	closeAll(childSide, nil)

	p.pid = cmd.Process.Pid
	logger.Debug("worker process started", "pid", p.pid, "command", spec.Command, "codec", codec, "command_set", commandSet)

	go pumpLines(stderr, logger, slog.LevelWarn, "worker stderr")

	go func() {
		err := cmd.Wait()
		p.exitErr = exitReason(err)
		p.transport.Close()
		close(p.done)
	}()

	return p, nil
}

// Pid returns the child's OS process id.
func (p *Process) Pid() int { return p.pid }

// Transport returns the protocol byte stream shared with the child.
func (p *Process) Transport() io.ReadWriteCloser { return p.transport }

// Done closes after the process has exited and Err is set.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err reports the exit reason: nil for a clean status-0 exit, otherwise an
// error carrying the signal or exit code. Only valid after Done.
func (p *Process) Err() error { return p.exitErr }

// Signal delivers sig to the child. Best-effort: an already-exited child is
// not an error.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return err
	}
	return nil
}

// Kill forcibly terminates the child.
func (p *Process) Kill() error {
	return p.Signal(os.Kill)
}

// exitReason maps cmd.Wait's result onto the completion-future contract:
// clean exit resolves nil, anything else carries the captured reason.
func exitReason(err error) error {
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("worker process exited: %s: %w", exitErr.ProcessState.String(), exitErr)
	}
	return fmt.Errorf("wait for process: %w", err)
}

func osPipe() (*os.File, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	return r, w, nil
}

func closeAll(groups ...[]io.Closer) {
	for _, g := range groups {
		for _, c := range g {
			if c != nil {
				_ = c.Close()
			}
		}
	}
}
