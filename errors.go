package boxpool

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolStopped rejects work submitted to a pool that is not running, and
// queued work abandoned by Stop.
var ErrPoolStopped = errors.New("boxpool: pool is not running")

// ErrAlreadyStarted is returned by Start on a running pool.
var ErrAlreadyStarted = errors.New("boxpool: pool already started")

// TimeoutError rejects a call that overran its timeout or deadline; the
// worker servicing it was sent the configured termination signal.
type TimeoutError struct {
	Command string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("boxpool: call %q timed out after %v", e.Command, e.After)
}

// CrashError rejects a call whose worker process died mid-flight. Reason is
// the captured exit status, when the process reported one.
type CrashError struct {
	Command string
	Reason  error
}

func (e *CrashError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("boxpool: worker died during %q: %v", e.Command, e.Reason)
	}
	return fmt.Sprintf("boxpool: worker died during %q", e.Command)
}

func (e *CrashError) Unwrap() error { return e.Reason }
