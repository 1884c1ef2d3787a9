//go:build unix

package proc

import (
	"syscall"
	"testing"
	"time"
)

func waitExit(t *testing.T, p *Process) error {
	t.Helper()
	select {
	case <-p.Done():
		return p.Err()
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
		return nil
	}
}

func TestStartCleanExit(t *testing.T) {
	p, err := Start(Spec{Command: "/bin/sh", Args: []string{"-c", "exit 0"}, UseStdio: true}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := waitExit(t, p); err != nil {
		t.Errorf("clean exit should resolve nil, got %v", err)
	}
}

func TestStartNonZeroExit(t *testing.T) {
	p, err := Start(Spec{Command: "/bin/sh", Args: []string{"-c", "exit 3"}, UseStdio: true}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := waitExit(t, p); err == nil {
		t.Error("non-zero exit should carry a reason")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	if _, err := Start(Spec{Command: "/no/such/binary"}, nil); err == nil {
		t.Error("expected immediate spawn failure")
	}
}

func TestSignalTermination(t *testing.T) {
	p, err := Start(Spec{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}, UseStdio: true}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Signal(syscall.SIGKILL); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if err := waitExit(t, p); err == nil {
		t.Error("killed process should carry a reason")
	}
	// Signalling an exited process is a no-op, not an error.
	if err := p.Signal(syscall.SIGTERM); err != nil {
		t.Errorf("signal after exit: %v", err)
	}
}

func TestTransportStdio(t *testing.T) {
	// cat echoes the protocol stream back, byte for byte.
	p, err := Start(Spec{Command: "/bin/sh", Args: []string{"-c", "cat"}, UseStdio: true}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	msg := []byte("round trip\n")
	if _, err := p.Transport().Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := p.Transport().Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed %q, want %q", buf, msg)
	}
}

func TestTransportDedicatedFds(t *testing.T) {
	// Copy fd 3 to fd 4, leaving stdout free for garbage.
	script := "echo not-protocol-data; cat <&3 >&4"
	p, err := Start(Spec{Command: "/bin/sh", Args: []string{"-c", script}}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	msg := []byte("over fds 3 and 4\n")
	if _, err := p.Transport().Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := p.Transport().Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed %q, want %q", buf, msg)
	}
}

func TestSignalByName(t *testing.T) {
	tests := []struct {
		name    string
		want    syscall.Signal
		wantErr bool
	}{
		{"KILL", syscall.SIGKILL, false},
		{"kill", syscall.SIGKILL, false},
		{"SIGTERM", syscall.SIGTERM, false},
		{"TERM", syscall.SIGTERM, false},
		{"USR1", syscall.SIGUSR1, false},
		{"WINCH", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run("name="+tt.name, func(t *testing.T) {
			sig, err := SignalByName(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignalByName(%q) failed: %v", tt.name, err)
			}
			if sig != tt.want {
				t.Errorf("SignalByName(%q) = %v, want %v", tt.name, sig, tt.want)
			}
		})
	}
}
