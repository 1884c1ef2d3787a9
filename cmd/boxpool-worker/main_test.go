package main

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/boxpool/amp"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildDispatcherRejectsUnknownSet(t *testing.T) {
	host, child := net.Pipe()
	defer host.Close()
	defer child.Close()

	if _, err := buildDispatcher(child, "box", "bogus", discard()); err == nil {
		t.Fatal("expected unknown command set to be rejected")
	}
	if _, err := buildDispatcher(child, "json", "standard", discard()); err == nil {
		t.Fatal("expected unknown codec to be rejected")
	}
}

func TestStandardSetHasNoDiagCommands(t *testing.T) {
	host, child := net.Pipe()
	d, err := buildDispatcher(child, "box", "standard", discard())
	if err != nil {
		t.Fatalf("buildDispatcher failed: %v", err)
	}
	go d.Serve()

	client, err := amp.NewClient(host, "box", discard())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	pending, err := client.Ask(amp.Pid, nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	res := waitResult(t, pending)
	rerr, ok := res.Err.(*amp.RemoteError)
	if !ok {
		t.Fatalf("expected RemoteError, got %v", res.Err)
	}
	if rerr.Code != amp.CodeUnhandled {
		t.Fatalf("expected %s, got %s", amp.CodeUnhandled, rerr.Code)
	}
}

func TestDiagSetRoundTrip(t *testing.T) {
	host, child := net.Pipe()
	d, err := buildDispatcher(child, "box", "diag", discard())
	if err != nil {
		t.Fatalf("buildDispatcher failed: %v", err)
	}
	go d.Serve()

	client, err := amp.NewClient(host, "box", discard())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	pending, err := client.Ask(amp.Pid, nil)
	if err != nil {
		t.Fatalf("Ask pid failed: %v", err)
	}
	res := waitResult(t, pending)
	if res.Err != nil {
		t.Fatalf("pid failed: %v", res.Err)
	}
	if res.Fields["pid"] != os.Getpid() {
		t.Fatalf("expected own pid %d, got %v", os.Getpid(), res.Fields["pid"])
	}

	pending, err = client.Ask(amp.Boom, amp.Args{"message": "deliberate"})
	if err != nil {
		t.Fatalf("Ask boom failed: %v", err)
	}
	res = waitResult(t, pending)
	rerr, ok := res.Err.(*amp.RemoteError)
	if !ok {
		t.Fatalf("expected RemoteError, got %v", res.Err)
	}
	if !strings.Contains(rerr.Description, "deliberate") {
		t.Fatalf("unexpected description %q", rerr.Description)
	}
}

func waitResult(t *testing.T, p *amp.Pending) amp.Result {
	t.Helper()
	select {
	case res := <-p.Done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for answer")
		return amp.Result{}
	}
}
