//go:build unix

package proc

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

var signalsByName = map[string]os.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// SignalByName resolves a configured signal name ("KILL", "SIGTERM", ...)
// to the platform signal.
func SignalByName(name string) (os.Signal, error) {
	key := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "SIG"))
	if sig, ok := signalsByName[key]; ok {
		return sig, nil
	}
	return nil, fmt.Errorf("unknown signal %q", name)
}
