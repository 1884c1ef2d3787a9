package boxpool

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/boxpool/amp"
)

// procHandle is the slice of internal/proc.Process the scheduler needs.
// Tests substitute in-memory fakes.
type procHandle interface {
	Pid() int
	Transport() io.ReadWriteCloser
	Done() <-chan struct{}
	Err() error
	Signal(sig os.Signal) error
	Kill() error
}

type workerState int

const (
	stateReady workerState = iota
	stateBusy
	stateStopping
)

func (s workerState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateBusy:
		return "busy"
	case stateStopping:
		return "stopping"
	}
	return "unknown"
}

// worker is one live child process plus its protocol client. All fields
// besides the client are guarded by the pool mutex.
type worker struct {
	id     string
	proc   procHandle
	client *amp.Client
	logger *slog.Logger

	state      workerState
	calls      int
	lastActive time.Time
	call       *Call
}
