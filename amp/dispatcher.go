package amp

import (
	"fmt"
	"io"
	"log/slog"
)

// Handler executes one command invocation on the worker side.
type Handler func(args Args) (Args, error)

type boundCommand struct {
	cmd *Command
	fn  Handler
}

// Dispatcher is the worker side of a connection: it reads request boxes,
// resolves the command name to a handler, and writes back an answer or error
// box when the request carried an ask id.
//
// Echo and Shutdown are registered on every dispatcher.
type Dispatcher struct {
	codec    Codec
	logger   *slog.Logger
	handlers map[string]boundCommand
	quitting bool
}

// NewDispatcher builds a dispatcher over rw using the named codec.
func NewDispatcher(rw io.ReadWriter, codecName string, logger *slog.Logger) (*Dispatcher, error) {
	codec, err := NewCodec(codecName, rw)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		codec:    codec,
		logger:   logger,
		handlers: make(map[string]boundCommand),
	}
	d.Register(Echo, func(args Args) (Args, error) {
		return Args{"data": args["data"]}, nil
	})
	d.Register(Shutdown, func(Args) (Args, error) {
		d.quitting = true
		return nil, nil
	})
	return d, nil
}

// Register binds a handler to a command, replacing any previous binding.
func (d *Dispatcher) Register(cmd *Command, fn Handler) {
	d.handlers[cmd.Name] = boundCommand{cmd: cmd, fn: fn}
}

// Serve processes requests until the peer closes the stream, a shutdown
// command is acknowledged, or a protocol error kills the connection. A clean
// close returns nil.
func (d *Dispatcher) Serve() error {
	for {
		box, err := d.codec.ReadBox()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		name, ok := box.GetString(keyCommand)
		if !ok {
			return &ProtocolError{Reason: "box without _command"}
		}
		ask, hasAsk := box.GetString(keyAsk)

		bound, known := d.handlers[name]
		if !known {
			d.logger.Warn("unhandled command", "command", name)
			if hasAsk {
				if err := d.writeError(ask, CodeUnhandled, fmt.Sprintf("no handler for %q", name)); err != nil {
					return err
				}
			}
			continue
		}

		reply, herr := d.invoke(bound, box)
		if !hasAsk {
			// Fire-and-forget: never answer, even on failure.
			if herr != nil {
				d.logger.Warn("command failed", "command", name, "error", herr)
			}
			continue
		}

		if herr != nil {
			if err := d.writeError(ask, CodeUnknown, herr.Error()); err != nil {
				return err
			}
			continue
		}

		out := Box{{Key: keyAnswer, Value: []byte(ask)}}
		body, err := marshalFields(bound.cmd.Returns, reply)
		if err != nil {
			if werr := d.writeError(ask, CodeUnknown, err.Error()); werr != nil {
				return werr
			}
			continue
		}
		out = append(out, body...)
		if err := d.codec.WriteBox(out); err != nil {
			return err
		}

		if d.quitting {
			return nil
		}
	}
}

// invoke runs the handler with decoded arguments, converting panics into
// command errors so a bad handler cannot take the whole worker down.
func (d *Dispatcher) invoke(bound boundCommand, box Box) (reply Args, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	args, err := unmarshalFields(bound.cmd.Args, box)
	if err != nil {
		return nil, err
	}
	reply, err = bound.fn(args)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = Args{}
	}
	return reply, nil
}

func (d *Dispatcher) writeError(ask, code, description string) error {
	return d.codec.WriteBox(Box{
		{Key: keyError, Value: []byte(ask)},
		{Key: keyErrorCode, Value: []byte(code)},
		{Key: keyErrorDescription, Value: []byte(description)},
	})
}
