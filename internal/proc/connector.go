package proc

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// maxLogLine caps a single forwarded stdout/stderr line.
const maxLogLine = 64 * 1024

// transport joins the host's write and read channel ends into the single
// byte stream the protocol layer consumes. Close is idempotent; the exit
// watcher and the protocol client may both call it.
type transport struct {
	w io.WriteCloser
	r io.ReadCloser

	once sync.Once
}

func (t *transport) Write(p []byte) (int, error) { return t.w.Write(p) }
func (t *transport) Read(p []byte) (int, error)  { return t.r.Read(p) }

func (t *transport) Close() error {
	t.once.Do(func() {
		_ = t.w.Close()
		_ = t.r.Close()
	})
	return nil
}

// pumpLines forwards a child output stream to the diagnostic log, one line
// per record. Protocol data never flows through here.
func pumpLines(r io.Reader, logger *slog.Logger, level slog.Level, msg string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLogLine)
	for scanner.Scan() {
		logger.Log(context.Background(), level, msg, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("output stream closed", "error", err)
	}
}
