package boxpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/boxpool/amp"
)

// Call is the asynchronous result of one submitted job. Done receives the
// call itself exactly once, after Reply and Err are set.
type Call struct {
	// ID identifies the call in logs.
	ID      string
	Command *amp.Command
	Args    amp.Args

	// Reply holds the decoded response fields on success.
	Reply amp.Args
	// Err holds the dispatch, command, timeout, or crash error on failure.
	Err error

	Done chan *Call

	seq         uint64
	timeout     time.Duration
	hasTimeout  bool
	deadline    time.Time
	hasDeadline bool

	budget   time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
	once     sync.Once
}

// Wait blocks until the call completes or ctx is done.
func (c *Call) Wait(ctx context.Context) (amp.Args, error) {
	select {
	case <-c.Done:
		return c.Reply, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) finish(reply amp.Args, err error) {
	c.once.Do(func() {
		c.Reply = reply
		c.Err = err
		c.Done <- c
	})
}

// stopTimer cancels a pending timeout callback, if any.
func (c *Call) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// CallOption adjusts a single submission.
type CallOption func(*Call)

// WithTimeout bounds the call to a relative duration. A zero timeout fails
// the call near-immediately.
func WithTimeout(d time.Duration) CallOption {
	return func(c *Call) {
		c.timeout = d
		c.hasTimeout = true
	}
}

// WithDeadline bounds the call to an absolute point in time.
func WithDeadline(t time.Time) CallOption {
	return func(c *Call) {
		c.deadline = t
		c.hasDeadline = true
	}
}
