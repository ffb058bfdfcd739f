// Package procutil holds helpers shared by code that supervises child processes.
package procutil

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// TailBuffer is an io.Writer that keeps only the last Max bytes written.
// Used to attach a stderr tail to process failure errors.
type TailBuffer struct {
	Max int

	mu  sync.Mutex
	buf []byte
}

func NewTailBuffer(max int) *TailBuffer { return &TailBuffer{Max: max} }

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if t.Max > 0 && len(t.buf) > t.Max {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.Max:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Terminate sends SIGTERM to cmd and waits for exited to close, falling back
// to SIGKILL after grace. exited must be closed by whoever calls cmd.Wait.
func Terminate(cmd *exec.Cmd, exited <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-exited
	}
}
