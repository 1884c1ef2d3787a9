package amp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
)

// Result is the outcome of one ask: the decoded response fields, or the
// error that ended it.
type Result struct {
	Fields Args
	Err    error
}

// Pending is an in-flight ask. Done receives exactly one Result.
type Pending struct {
	Done chan Result

	cmd *Command
}

func (p *Pending) resolve(r Result) {
	p.Done <- r
}

// Client is the host side of a worker connection. It writes request boxes,
// correlates answers by ask id, and fails every pending ask when the
// transport dies. Safe for concurrent use, though the pool issues at most
// one ask per worker at a time.
type Client struct {
	codec     Codec
	transport io.Closer
	logger    *slog.Logger

	wmu sync.Mutex // serializes WriteBox

	mu       sync.Mutex
	nextAsk  uint64
	pending  map[string]*Pending
	closed   bool
	closeErr error
}

// NewClient wraps rw with the named codec and starts the read loop.
func NewClient(rw io.ReadWriteCloser, codecName string, logger *slog.Logger) (*Client, error) {
	codec, err := NewCodec(codecName, rw)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		codec:     codec,
		transport: rw,
		logger:    logger,
		pending:   make(map[string]*Pending),
	}
	go c.readLoop()
	return c, nil
}

// Ask issues cmd with args. For commands that need an answer the returned
// Pending resolves when the response box arrives or the connection dies; for
// fire-and-forget commands it is resolved before Ask returns.
func (c *Client) Ask(cmd *Command, args Args) (*Pending, error) {
	body, err := marshalFields(cmd.Args, args)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", cmd.Name, err)
	}

	box := Box{{Key: keyCommand, Value: []byte(cmd.Name)}}
	p := &Pending{Done: make(chan Result, 1), cmd: cmd}

	if cmd.NeedsAnswer {
		c.mu.Lock()
		if c.closed {
			err := c.closeErr
			c.mu.Unlock()
			return nil, err
		}
		c.nextAsk++
		ask := strconv.FormatUint(c.nextAsk, 10)
		c.pending[ask] = p
		c.mu.Unlock()
		box = append(box, Pair{Key: keyAsk, Value: []byte(ask)})
		box = append(box, body...)

		c.wmu.Lock()
		werr := c.codec.WriteBox(box)
		c.wmu.Unlock()
		if werr != nil {
			c.mu.Lock()
			delete(c.pending, ask)
			c.mu.Unlock()
			return nil, fmt.Errorf("send %q: %w", cmd.Name, werr)
		}
		return p, nil
	}

	// Fire-and-forget: no correlation id, complete once written.
	box = append(box, body...)
	c.wmu.Lock()
	werr := c.codec.WriteBox(box)
	c.wmu.Unlock()
	if werr != nil {
		return nil, fmt.Errorf("send %q: %w", cmd.Name, werr)
	}
	p.resolve(Result{})
	return p, nil
}

// Close tears the connection down and fails every pending ask with
// ErrConnectionLost. Safe to call more than once.
func (c *Client) Close() error {
	c.fail(ErrConnectionLost)
	return nil
}

// readLoop consumes boxes until the transport dies or a protocol error makes
// the connection unusable.
func (c *Client) readLoop() {
	for {
		box, err := c.codec.ReadBox()
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				c.fail(err)
			} else {
				// Anything else is the transport dying under us.
				c.fail(ErrConnectionLost)
			}
			return
		}
		c.handle(box)
	}
}

func (c *Client) handle(box Box) {
	if ask, ok := box.GetString(keyAnswer); ok {
		p := c.take(ask)
		if p == nil {
			c.logger.Warn("answer for unknown ask id", "ask", ask)
			return
		}
		fields, err := unmarshalFields(p.cmd.Returns, box)
		if err != nil {
			p.resolve(Result{Err: fmt.Errorf("command %q response: %w", p.cmd.Name, err)})
			return
		}
		p.resolve(Result{Fields: fields})
		return
	}

	if ask, ok := box.GetString(keyError); ok {
		p := c.take(ask)
		if p == nil {
			c.logger.Warn("error for unknown ask id", "ask", ask)
			return
		}
		code, _ := box.GetString(keyErrorCode)
		desc, _ := box.GetString(keyErrorDescription)
		p.resolve(Result{Err: &RemoteError{Code: code, Description: desc}})
		return
	}

	// Neither an answer nor an error; the box parsed, so this is not
	// connection-fatal. Drop it.
	c.logger.Warn("uncorrelated box dropped", "pairs", len(box))
}

func (c *Client) take(ask string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[ask]
	delete(c.pending, ask)
	return p
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	stranded := c.pending
	c.pending = make(map[string]*Pending)
	c.mu.Unlock()

	_ = c.transport.Close()
	for _, p := range stranded {
		p.resolve(Result{Err: err})
	}
}
