// Package runner supervises daemon subprocesses and invokes their
// command-line control clients. Every long-running daemon gets one
// background goroutine per output stream that drains the pipe into an
// in-memory line buffer; an unread pipe would eventually deadlock the
// child. Readiness detection consumes new-line notifications from a
// channel with an explicit timeout instead of busy-polling the buffer.
package runner

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
)

// LookupBinary resolves a daemon or control-client binary. If folder is
// empty the binary is taken from $PATH. Missing binaries are detected at
// adapter construction time, before any process is started.
func LookupBinary(folder, name string) (string, error) {
	if folder != "" {
		path := filepath.Join(folder, name)
		if _, err := os.Stat(path); err != nil {
			return "", apperrors.NewBinaryNotFoundError(
				"binary "+name+" not found in "+folder, err)
		}
		return path, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", apperrors.NewBinaryNotFoundError(
			"binary "+name+" not found in $PATH", err)
	}
	return path, nil
}

// Process is a running daemon subprocess with tailed output.
type Process struct {
	name string
	log  *logger.Logger
	cmd  *exec.Cmd

	mu    sync.Mutex
	lines []string
	// notify carries one token per new output line; capacity 1 because
	// waiters rescan the whole buffer after each wakeup.
	notify chan struct{}

	exited  chan struct{}
	exitErr error
}

// Start spawns a daemon subprocess non-blocking. The process is placed
// in its own process group so an interrupt of the orchestrator does not
// propagate to the daemons before teardown runs. extraEnv entries are
// appended to the inherited environment.
func Start(name string, log *logger.Logger, binary string, args []string, extraEnv map[string]string) (*Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: stdout pipe", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: stderr pipe", name)
	}

	log.Info("Starting process", "name", name, "binary", binary, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewStartupError(name+": failed to spawn", err, nil)
	}

	p := &Process{
		name:   name,
		log:    log,
		cmd:    cmd,
		notify: make(chan struct{}, 1),
		exited: make(chan struct{}),
	}

	var drained sync.WaitGroup
	drained.Add(2)
	go p.drain(stdout, &drained)
	go p.drain(stderr, &drained)
	go func() {
		drained.Wait()
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

func (p *Process) drain(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.mu.Lock()
		p.lines = append(p.lines, scanner.Text())
		p.mu.Unlock()
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	// Wake any waiter so it can observe process exit.
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// LineCount snapshots the number of tailed lines. Callers pass it as the
// offset of a later WaitForLog so only output produced after the
// snapshot is considered.
func (p *Process) LineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lines)
}

func (p *Process) matchFrom(re *regexp.Regexp, offset int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := offset; i < len(p.lines); i++ {
		if re.MatchString(p.lines[i]) {
			return i + 1, true
		}
	}
	return len(p.lines), false
}

// WaitForLog blocks until a line at or after offset matches pattern,
// returning the index just past the match for use as a later offset. It
// fails loudly on timeout, context cancellation, or if the process exits
// before the marker appears. Log content is only guaranteed complete up
// to the returned offset.
func (p *Process) WaitForLog(ctx context.Context, pattern string, offset int, timeout time.Duration) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: bad log pattern", p.name)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	scanned := offset
	for {
		next, found := p.matchFrom(re, scanned)
		if found {
			return next, nil
		}
		scanned = next

		select {
		case <-p.notify:
		case <-p.exited:
			// Drain whatever arrived between the last scan and exit.
			if next, found := p.matchFrom(re, scanned); found {
				return next, nil
			}
			return 0, apperrors.NewStartupError(
				p.name+": process exited while waiting for log marker "+pattern,
				p.exitErr, nil)
		case <-deadline.C:
			return 0, apperrors.NewStartupError(
				p.name+": timed out waiting for log marker "+pattern, nil,
				map[string]interface{}{"timeout": timeout.String()})
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Wait blocks until the process exits or the timeout expires. The
// process is never force-killed here; callers report the failure.
func (p *Process) Wait(timeout time.Duration) error {
	select {
	case <-p.exited:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("%s: process did not exit within %s", p.name, timeout)
	}
}

// Running reports whether the process has not yet exited.
func (p *Process) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}
