// Package boxpool runs a bounded pool of worker subprocesses and dispatches
// named RPC jobs to them over the box wire protocol. Callers submit a
// command with arguments and get back an asynchronous Call that resolves
// with the job's response fields or its failure; sizing, recycling, pruning,
// and crash replacement happen behind that surface.
package boxpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/boxpool/amp"
	"github.com/mattjoyce/boxpool/internal/log"
	"github.com/mattjoyce/boxpool/internal/proc"
)

// Pool spawns and supervises worker processes and routes jobs to them. It is
// the only component that creates or destroys workers. Safe for concurrent
// use.
type Pool struct {
	cfg        Config
	logger     *slog.Logger
	timeoutSig os.Signal
	launch     func() (procHandle, error)

	mu         sync.Mutex
	running    bool
	workers    map[string]*worker
	starting   int
	queue      workQueue
	totalCalls uint64
	pruneStop  chan struct{}
	stopDone   chan struct{}
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Running    bool   `json:"running"`
	Ready      int    `json:"ready"`
	Busy       int    `json:"busy"`
	Stopping   int    `json:"stopping"`
	Starting   int    `json:"starting"`
	Queued     int    `json:"queued"`
	Min        int    `json:"min"`
	Max        int    `json:"max"`
	TotalCalls uint64 `json:"total_calls"`
}

// New validates cfg and builds a pool. Nothing is spawned until Start.
func New(cfg Config) (*Pool, error) {
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sig, err := proc.SignalByName(cfg.TimeoutSignal)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.LogLevel)

	p := &Pool{
		cfg:        cfg,
		logger:     log.WithComponent("pool"),
		timeoutSig: sig,
		workers:    make(map[string]*worker),
	}
	p.launch = func() (procHandle, error) {
		pr, err := proc.Start(cfg.launchSpec(), log.WithComponent("proc"))
		if err != nil {
			return nil, err
		}
		return pr, nil
	}
	return p, nil
}

// Start marks the pool active and grows it to the configured minimum.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyStarted
	}
	p.running = true
	p.stopDone = nil
	p.pruneStop = make(chan struct{})
	go p.pruneLoop(p.pruneStop)

	for p.aliveCountLocked() < p.cfg.Min {
		p.startWorkerLocked(nil)
	}
	p.logger.Info("pool started", "min", p.cfg.Min, "max", p.cfg.Max)
	return nil
}

// Stop marks the pool inactive, rejects all queued work, gracefully stops
// every worker (in-flight starts included), and returns once the pool is
// empty or ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.pruneStop)
	p.stopDone = make(chan struct{})

	for _, c := range p.queue.drain() {
		c.finish(nil, ErrPoolStopped)
	}
	for _, w := range p.workers {
		if w.state != stateStopping {
			p.retireLocked(w)
		}
	}
	p.maybeFinishStopLocked()
	done := p.stopDone
	p.mu.Unlock()

	p.logger.Info("pool stopping")
	select {
	case <-done:
		p.logger.Info("pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands a job to the pool and returns its Call immediately: dispatch
// to a Ready worker if one exists, grow the pool if below max, queue
// otherwise. Submit never blocks.
func (p *Pool) Submit(cmd *amp.Command, args amp.Args, opts ...CallOption) *Call {
	call := &Call{
		ID:      uuid.NewString(),
		Command: cmd,
		Args:    args,
		Done:    make(chan *Call, 1),
	}
	for _, o := range opts {
		o(call)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		call.finish(nil, ErrPoolStopped)
		return call
	}
	if !call.hasTimeout && !call.hasDeadline && p.cfg.CallTimeout > 0 {
		call.timeout = p.cfg.CallTimeout
		call.hasTimeout = true
	}

	if w := p.readyLocked(); w != nil {
		p.dispatchLocked(w, call)
	} else if p.aliveCountLocked() < p.cfg.Max {
		p.startWorkerLocked(call)
	} else {
		p.queue.push(call)
	}
	return call
}

// Call submits and waits; an alias for Submit(...).Wait(ctx).
func (p *Pool) Call(ctx context.Context, cmd *amp.Command, args amp.Args, opts ...CallOption) (amp.Args, error) {
	return p.Submit(cmd, args, opts...).Wait(ctx)
}

// AdjustPoolSize changes the sizing bounds, growing or shrinking the pool to
// fit. Invalid bounds are rejected without mutating any state.
func (p *Pool) AdjustPoolSize(min, max int) error {
	if min < 0 {
		return fmt.Errorf("min must be >= 0, got %d", min)
	}
	if max <= 0 {
		return fmt.Errorf("max must be > 0, got %d", max)
	}
	if min > max {
		return fmt.Errorf("min (%d) must not exceed max (%d)", min, max)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Min, p.cfg.Max = min, max
	if !p.running {
		return nil
	}
	for p.aliveCountLocked() < min {
		p.startWorkerLocked(nil)
	}
	for p.aliveCountLocked() > max {
		w := p.victimLocked()
		if w == nil {
			break
		}
		p.retireLocked(w)
	}
	p.drainLocked()
	return nil
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Running:    p.running,
		Starting:   p.starting,
		Queued:     p.queue.len(),
		Min:        p.cfg.Min,
		Max:        p.cfg.Max,
		TotalCalls: p.totalCalls,
	}
	for _, w := range p.workers {
		switch w.state {
		case stateReady:
			s.Ready++
		case stateBusy:
			s.Busy++
		case stateStopping:
			s.Stopping++
		}
	}
	return s
}

// readyLocked picks any Ready worker. Selection is arbitrary (map iteration
// order); the protocol makes no fairness guarantee across workers.
func (p *Pool) readyLocked() *worker {
	for _, w := range p.workers {
		if w.state == stateReady {
			return w
		}
	}
	return nil
}

// victimLocked picks a worker to shrink away: a Ready one when possible,
// otherwise any worker not already stopping.
func (p *Pool) victimLocked() *worker {
	if w := p.readyLocked(); w != nil {
		return w
	}
	for _, w := range p.workers {
		if w.state != stateStopping {
			return w
		}
	}
	return nil
}

// aliveCountLocked counts workers that occupy a pool slot: everything not
// already stopping, plus in-flight starts.
func (p *Pool) aliveCountLocked() int {
	n := p.starting
	for _, w := range p.workers {
		if w.state != stateStopping {
			n++
		}
	}
	return n
}

// startWorkerLocked begins an asynchronous worker start. If job is non-nil
// it is dispatched to the new worker as soon as it is up; a spawn failure
// rejects the job immediately.
func (p *Pool) startWorkerLocked(job *Call) {
	p.starting++
	go func() {
		pr, err := p.launch()
		if err != nil {
			p.mu.Lock()
			p.starting--
			p.logger.Error("failed to start worker", "error", err)
			if job != nil {
				job.finish(nil, fmt.Errorf("spawn worker: %w", err))
			}
			p.maybeFinishStopLocked()
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		if !p.running {
			// Lost the race with Stop: this process must not outlive it.
			p.mu.Unlock()
			_ = pr.Kill()
			<-pr.Done()
			p.mu.Lock()
			p.starting--
			if job != nil {
				job.finish(nil, ErrPoolStopped)
			}
			p.maybeFinishStopLocked()
			p.mu.Unlock()
			return
		}
		p.starting--

		id := uuid.NewString()
		wlog := log.WithWorker(id).With("pid", pr.Pid())
		client, cerr := amp.NewClient(pr.Transport(), p.cfg.Worker.Codec, wlog)
		if cerr != nil {
			p.mu.Unlock()
			_ = pr.Kill()
			p.logger.Error("failed to attach protocol client", "error", cerr)
			if job != nil {
				job.finish(nil, fmt.Errorf("attach worker: %w", cerr))
			}
			return
		}

		w := &worker{
			id:         id,
			proc:       pr,
			client:     client,
			logger:     wlog,
			state:      stateReady,
			lastActive: time.Now(),
		}
		p.workers[id] = w
		go p.watchExit(w)
		wlog.Debug("worker ready")

		if job != nil {
			p.dispatchLocked(w, job)
		}
		p.drainLocked()
		p.mu.Unlock()
	}()
}

// dispatchLocked hands one job to a specific worker: Busy state, call
// counter, timeout arming, then the protocol request.
func (p *Pool) dispatchLocked(w *worker, call *Call) {
	w.state = stateBusy
	w.call = call
	w.calls++
	w.lastActive = time.Now()
	p.totalCalls++

	if d, armed := timeoutBudget(call); armed {
		sig := p.timeoutSig
		target := w.proc
		wlog := w.logger
		call.timer = time.AfterFunc(d, func() {
			call.timedOut.Store(true)
			wlog.Warn("call overran its budget, signalling worker", "call_id", call.ID, "command", call.Command.Name, "budget", d)
			_ = target.Signal(sig)
		})
	}

	go p.run(w, call)
}

// timeoutBudget resolves a call's relative timeout or absolute deadline into
// a timer duration. A zero or elapsed budget fires near-immediately.
func timeoutBudget(call *Call) (time.Duration, bool) {
	var d time.Duration
	armed := false
	if call.hasDeadline {
		d = time.Until(call.deadline)
		armed = true
	}
	if call.hasTimeout && (!armed || call.timeout < d) {
		d = call.timeout
		armed = true
	}
	if d < 0 {
		d = 0
	}
	call.budget = d
	return d, armed
}

// run performs the wire exchange for one dispatched call.
func (p *Pool) run(w *worker, call *Call) {
	pending, err := w.client.Ask(call.Command, call.Args)
	if err != nil {
		p.complete(w, call, nil, err)
		return
	}
	res := <-pending.Done
	p.complete(w, call, res.Fields, res.Err)
}

// complete settles a finished call and returns its worker to service: cancel
// the timeout, classify connection loss as timeout or crash, recycle the
// worker when it has reached its call budget, then drain queued work.
func (p *Pool) complete(w *worker, call *Call, fields amp.Args, err error) {
	call.stopTimer()

	var perr *amp.ProtocolError
	died := false
	if err != nil {
		switch {
		case call.timedOut.Load():
			died = true
			err = &TimeoutError{Command: call.Command.Name, After: call.budget}
		case errors.Is(err, amp.ErrConnectionLost):
			// The exit reason is only valid once the process is gone.
			died = true
			<-w.proc.Done()
			err = &CrashError{Command: call.Command.Name, Reason: w.proc.Err()}
		case errors.As(err, &perr):
			// Protocol-fatal: the connection is torn down; the worker
			// exits on EOF and watchExit replaces it.
			died = true
		}
	}
	call.finish(fields, err)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.workers[w.id]; ok && cur == w && w.state == stateBusy {
		w.call = nil
		w.lastActive = time.Now()
		switch {
		case died:
			// watchExit removes the worker and starts any replacement.
		case !p.running:
			p.retireLocked(w)
		case p.cfg.RecycleAfter > 0 && w.calls >= p.cfg.RecycleAfter:
			w.logger.Info("recycling worker", "calls", w.calls)
			p.retireLocked(w)
			if p.aliveCountLocked() < p.cfg.Max {
				p.startWorkerLocked(nil)
			}
		default:
			w.state = stateReady
		}
	}
	p.drainLocked()
}

// drainLocked moves pending work onto Ready workers in strict submission
// order, growing the pool when capacity allows.
func (p *Pool) drainLocked() {
	if !p.running {
		return
	}
	for p.queue.len() > 0 {
		w := p.readyLocked()
		if w == nil {
			break
		}
		p.dispatchLocked(w, p.queue.pop())
	}
	for p.queue.len() > 0 && p.aliveCountLocked() < p.cfg.Max {
		p.startWorkerLocked(p.queue.pop())
	}
}

// retireLocked begins a graceful stop of one worker.
func (p *Pool) retireLocked(w *worker) {
	w.state = stateStopping
	go p.shutdownWorker(w)
}

// shutdownWorker asks the worker to exit and kills it after the grace
// period. Issuing shutdown to an already-dead worker is not an error.
func (p *Pool) shutdownWorker(w *worker) {
	if _, err := w.client.Ask(amp.Shutdown, nil); err != nil {
		w.logger.Debug("shutdown not deliverable", "error", err)
	}
	select {
	case <-w.proc.Done():
	case <-time.After(p.cfg.ShutdownGrace):
		w.logger.Warn("worker did not exit within grace period, killing")
		_ = w.proc.Kill()
	}
}

// watchExit reaps one worker when its process exits, for any reason. While
// the pool is running a death below min triggers a replacement; a failed
// replacement is logged and the pool keeps operating smaller.
func (p *Pool) watchExit(w *worker) {
	<-w.proc.Done()
	_ = w.client.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.workers[w.id]; !ok || cur != w {
		return
	}
	delete(p.workers, w.id)

	if err := w.proc.Err(); err != nil {
		w.logger.Warn("worker exited", "error", err, "state", w.state.String())
	} else {
		w.logger.Debug("worker exited cleanly")
	}

	if p.running && p.aliveCountLocked() < p.cfg.Min {
		p.startWorkerLocked(nil)
	}
	p.drainLocked()
	p.maybeFinishStopLocked()
}

// pruneLoop retires surplus idle workers on a fixed interval.
func (p *Pool) pruneLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.MaxIdle)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pruneIdle()
		}
	}
}

func (p *Pool) pruneIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	now := time.Now()
	for _, w := range p.workers {
		if w.state == stateReady && now.Sub(w.lastActive) >= p.cfg.MaxIdle && p.aliveCountLocked() > p.cfg.Min {
			w.logger.Info("pruning idle worker", "idle", now.Sub(w.lastActive))
			p.retireLocked(w)
		}
	}
}

// maybeFinishStopLocked resolves Stop's wait once nothing is left: no
// registered workers and no in-flight starts.
func (p *Pool) maybeFinishStopLocked() {
	if p.running || p.stopDone == nil {
		return
	}
	if len(p.workers) == 0 && p.starting == 0 {
		close(p.stopDone)
		p.stopDone = nil
	}
}
