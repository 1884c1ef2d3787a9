// Command boxpool-worker is the stock worker bootstrap launched by the pool.
// Invocation: boxpool-worker <extra-args...> <codec> <command-set>. The
// protocol rides fds 3/4 unless BOXPOOL_STDIO=1, in which case stdin/stdout
// are reused. Logs go to stderr; the host forwards them to its diagnostic
// log.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/boxpool/amp"
	"github.com/mattjoyce/boxpool/internal/proc"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "worker", "pid", os.Getpid())

	if len(os.Args) < 3 {
		logger.Error("usage: boxpool-worker [extra-args...] <codec> <command-set>")
		os.Exit(2)
	}
	codec := os.Args[len(os.Args)-2]
	commandSet := os.Args[len(os.Args)-1]

	d, err := buildDispatcher(openTransport(), codec, commandSet, logger)
	if err != nil {
		logger.Error("dispatcher setup failed", "error", err)
		os.Exit(2)
	}

	logger.Debug("worker serving", "codec", codec, "command_set", commandSet)
	if err := d.Serve(); err != nil {
		logger.Error("worker terminated", "error", err)
		os.Exit(1)
	}
}

// openTransport returns the protocol byte stream: the dedicated fd 3/4 pair
// by default, stdin/stdout when the launcher asked for stdio mode.
func openTransport() io.ReadWriter {
	if os.Getenv(proc.EnvStdio) == "1" {
		return stdio{}
	}
	return rwPair{
		r: os.NewFile(3, "boxpool-in"),
		w: os.NewFile(4, "boxpool-out"),
	}
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

type rwPair struct {
	r *os.File
	w *os.File
}

func (p rwPair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p rwPair) Write(b []byte) (int, error) { return p.w.Write(b) }

// buildDispatcher assembles the dispatcher for the selected command set.
// "standard" carries only the built-ins; "diag" adds the diagnostic
// commands used for probing and fault injection.
func buildDispatcher(rw io.ReadWriter, codec, commandSet string, logger *slog.Logger) (*amp.Dispatcher, error) {
	d, err := amp.NewDispatcher(rw, codec, logger)
	if err != nil {
		return nil, err
	}

	switch commandSet {
	case "standard":
	case "diag":
		registerDiag(d, logger)
	default:
		return nil, fmt.Errorf("unknown command set %q", commandSet)
	}
	return d, nil
}

func registerDiag(d *amp.Dispatcher, logger *slog.Logger) {
	d.Register(amp.Pid, func(amp.Args) (amp.Args, error) {
		return amp.Args{"pid": os.Getpid()}, nil
	})
	d.Register(amp.Sleep, func(args amp.Args) (amp.Args, error) {
		ms := args["ms"].(int)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return amp.Args{"slept_ms": ms}, nil
	})
	d.Register(amp.Boom, func(args amp.Args) (amp.Args, error) {
		return nil, fmt.Errorf("boom: %s", args["message"])
	})
	d.Register(amp.Crash, func(args amp.Args) (amp.Args, error) {
		code := args["code"].(int)
		logger.Warn("crashing on request", "code", code)
		os.Exit(code)
		return nil, nil
	})
}
