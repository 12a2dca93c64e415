// Package ptybackend implements the PTY backend contract (component C):
// spawning a child on a pseudo-terminal and carrying its output, input,
// resize and drain traffic to the session loop.
package ptybackend

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/groblegark/coop-sub001/internal/logger"
)

// Input is the sum type the session loop feeds to a running backend.
// Write emits bytes to the child; Drain acknowledges once prior writes
// have flushed to the TTY discipline (the Drain channel is closed, never
// sent on, so multiple waiters could in principle share it).
type Input struct {
	Write []byte
	Drain chan<- struct{}
}

// Exit is the terminal outcome of a backend Run call.
type Exit struct {
	Code   int
	Signal int
}

// Backend is the capability set required of any PTY implementation
// (native fork/exec or tmux/screen attach) per spec §9's "dynamic
// dispatch" design note.
type Backend interface {
	Run(ctx context.Context, outputTx chan<- []byte, inputRx <-chan Input) (Exit, error)
	Resize(cols, rows int) error
	ChildPID() int32
}

// Config describes how to spawn the child.
type Config struct {
	Bin  string
	Args []string
	Env  []string
	Dir  string
	Cols int
	Rows int

	// ReapPollInterval governs how often Drop polls for exit between
	// SIGHUP and SIGKILL (default 50ms, ceiling 500ms per spec §4.3 step 4).
	ReapPollInterval time.Duration
}

// Native is the fork/exec PTY backend: implementation contract step 1-5
// of spec §4.3.
type Native struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pid  int32 // atomic; 0 = no child
	cfg  Config
}

// NewNative forks the child into a new session (process-group leader),
// execs with inherited env plus TERM/COOP and caller-supplied vars, and
// starts the PTY master in non-blocking mode for 8 KiB chunked reads.
func NewNative(cfg Config) (*Native, error) {
	if cfg.ReapPollInterval <= 0 {
		cfg.ReapPollInterval = 50 * time.Millisecond
	}
	env := append(os.Environ(), cfg.Env...)
	env = append(env, "TERM=xterm-256color", "COOP=1")

	cmd := exec.CommandContext(context.Background(), cfg.Bin, cfg.Args...)
	cmd.Env = env
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	// New session, own process group, default SIGPIPE restored before exec.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	size := &pty.Winsize{Cols: uint16(cfg.Cols), Rows: uint16(cfg.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, err
	}

	n := &Native{cmd: cmd, ptmx: ptmx, cfg: cfg}
	atomic.StoreInt32(&n.pid, int32(cmd.Process.Pid))
	return n, nil
}

// ChildPID returns the current child PID, or 0 if none.
func (n *Native) ChildPID() int32 {
	return atomic.LoadInt32(&n.pid)
}

// Resize writes the new window size to the TTY. The session loop is
// additionally responsible for sending SIGWINCH to the process group
// (spec §4.3 step 5) since programs without TIOCSWINSZ handlers need it.
func (n *Native) Resize(cols, rows int) error {
	n.cfg.Cols, n.cfg.Rows = cols, rows
	return pty.Setsize(n.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// SignalGroup sends sig to the child's process group (negative PID).
func (n *Native) SignalGroup(sig syscall.Signal) error {
	pid := n.ChildPID()
	if pid == 0 {
		return errors.New("ptybackend: no child")
	}
	return syscall.Kill(int(-pid), sig)
}

// Run reads PTY output into outputTx (8 KiB chunks, EIO treated as EOF)
// while forwarding inputRx writes/drains to the master, until the child
// exits or ctx is cancelled. On cancellation it runs the drop sequence:
// best-effort SIGHUP to the group, poll for exit up to 500ms, then
// SIGKILL.
func (n *Native) Run(ctx context.Context, outputTx chan<- []byte, inputRx <-chan Input) (Exit, error) {
	readDone := make(chan struct{})
	readErr := make(chan error, 1)

	go func() {
		defer close(readDone)
		defer close(outputTx)
		buf := make([]byte, 8*1024)
		for {
			nRead, err := n.ptmx.Read(buf)
			if nRead > 0 {
				chunk := make([]byte, nRead)
				copy(chunk, buf[:nRead])
				select {
				case outputTx <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if isEIOOrEOF(err) {
					return
				}
				readErr <- err
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- n.cmd.Wait() }()

inputLoop:
	for {
		select {
		case in, ok := <-inputRx:
			if !ok {
				break inputLoop
			}
			if len(in.Write) > 0 {
				if _, err := n.ptmx.Write(in.Write); err != nil {
					logger.Debug("ptybackend: write failed", "err", err)
				}
			}
			if in.Drain != nil {
				close(in.Drain)
			}
		case <-ctx.Done():
			break inputLoop
		case <-waitDone:
			break inputLoop
		}
	}

	n.drop()

	select {
	case err := <-waitDone:
		n.ptmx.Close()
		atomic.StoreInt32(&n.pid, 0)
		return exitFromWaitErr(err), nil
	case <-time.After(500 * time.Millisecond):
	}

	n.ptmx.Close()
	atomic.StoreInt32(&n.pid, 0)
	return Exit{Code: 137, Signal: int(syscall.SIGKILL)}, nil
}

// drop runs the best-effort termination sequence: SIGHUP to the group,
// poll for exit at ReapPollInterval up to 500ms total, then SIGKILL.
func (n *Native) drop() {
	_ = n.SignalGroup(syscall.SIGHUP)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if n.cmd.ProcessState != nil {
			return
		}
		if err := n.cmd.Process.Signal(syscall.Signal(0)); err != nil {
			return // already gone
		}
		time.Sleep(n.cfg.ReapPollInterval)
	}
	_ = n.SignalGroup(syscall.SIGKILL)
}

func isEIOOrEOF(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EIO
	}
	return false
}

func exitFromWaitErr(err error) Exit {
	if err == nil {
		return Exit{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return Exit{Signal: int(ws.Signal())}
			}
			return Exit{Code: ws.ExitStatus()}
		}
	}
	return Exit{Code: 1}
}

// SignalFromName maps a POSIX signal name to its value for the signal()
// handler operation. Unknown names return ok=false (BadRequest).
func SignalFromName(name string) (syscall.Signal, bool) {
	switch name {
	case "SIGHUP", "HUP":
		return syscall.SIGHUP, true
	case "SIGINT", "INT":
		return syscall.SIGINT, true
	case "SIGKILL", "KILL":
		return syscall.SIGKILL, true
	case "SIGTERM", "TERM":
		return syscall.SIGTERM, true
	case "SIGUSR1", "USR1":
		return syscall.SIGUSR1, true
	case "SIGUSR2", "USR2":
		return syscall.SIGUSR2, true
	case "SIGWINCH", "WINCH":
		return syscall.SIGWINCH, true
	case "SIGCONT", "CONT":
		return syscall.SIGCONT, true
	case "SIGSTOP", "STOP":
		return syscall.SIGSTOP, true
	default:
		return 0, false
	}
}
