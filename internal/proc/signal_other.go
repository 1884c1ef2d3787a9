//go:build !unix

package proc

import (
	"fmt"
	"os"
	"strings"
)

// SignalByName resolves a configured signal name. Platforms without POSIX
// signals only support forced kill.
func SignalByName(name string) (os.Signal, error) {
	key := strings.ToUpper(strings.TrimPrefix(strings.ToUpper(name), "SIG"))
	if key == "KILL" {
		return os.Kill, nil
	}
	return nil, fmt.Errorf("signal %q is not supported on this platform", name)
}
