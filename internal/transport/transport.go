package transport

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pawnsight/uciflow/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading engine output
	// lines. UCI info lines with long principal variations stay well under
	// this, but some engines echo verbose option descriptions.
	maxScanTokenSize = 256 * 1024

	// lineChannelDepth bounds how many complete lines are buffered between
	// the pump goroutine and ReadLine. Engines can emit 50-100 info lines
	// per second; a slow consumer briefly blocks the pump, never the engine.
	lineChannelDepth = 512

	// terminateGrace is how long Terminate waits for a voluntary exit
	// (normally triggered by the caller sending quit first) before killing
	// the process.
	terminateGrace = 2 * time.Second
)

// Proc owns one engine subprocess and provides timeout-bounded line
// exchange over its standard input/output pipes.
//
// All methods assume single-goroutine access apart from Terminate and
// IsAlive, which may be called from any goroutine. A session never shares
// its transport across workers.
type Proc struct {
	log   *slog.Logger
	path  string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// Complete lines from the pump goroutine. Closed when stdout reaches EOF.
	lines chan string

	mu          sync.Mutex
	stdinClosed bool

	exited   chan struct{}
	exitErr  error
	termOnce sync.Once
}

// Spawn starts the engine executable at path with stdin/stdout pipes and
// begins pumping output lines. Returns *errors.SpawnError if the process
// cannot be launched.
func Spawn(log *slog.Logger, path string) (*Proc, error) {
	//nolint:gosec // G204: launching a caller-chosen engine binary is the point
	cmd := exec.Command(path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Path: path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	// Engine stderr is diagnostic noise; it must not interleave with the
	// protocol stream.
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, &errors.SpawnError{Path: path, Err: err}
	}

	p := &Proc{
		log:    log.With("component", "transport", "pid", cmd.Process.Pid),
		path:   path,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, lineChannelDepth),
		exited: make(chan struct{}),
	}

	p.log.Info("Engine process spawned", "path", path)

	go p.pump(stdout)

	return p, nil
}

// pump reads stdout until EOF, forwarding complete non-empty lines, then
// reaps the process.
func (p *Proc) pump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		p.lines <- line
	}

	if err := scanner.Err(); err != nil {
		p.log.Debug("Stdout scanner error", "error", err)
	}

	close(p.lines)

	// Reaping must happen after stdout is fully drained.
	// See: https://pkg.go.dev/os/exec#Cmd.StdoutPipe
	p.exitErr = p.cmd.Wait()
	close(p.exited)

	p.log.Debug("Engine process exited", "error", p.exitErr)
}

// WriteLine appends a newline to text and writes it to the engine's stdin.
// Returns errors.ErrTransportClosed if the process has exited or the
// transport was terminated.
func (p *Proc) WriteLine(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdinClosed || !p.IsAlive() {
		return errors.ErrTransportClosed
	}

	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransportClosed, err)
	}

	return nil
}

// ReadLine returns the next complete output line.
//
// A line already buffered is returned immediately with zero added latency.
// Otherwise ReadLine waits up to timeout for one to arrive and returns
// errors.ErrReadTimeout if none does. A timeout of zero makes the call
// strictly non-blocking. Returns errors.ErrTransportClosed once the
// process has exited and the buffer is drained.
func (p *Proc) ReadLine(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return "", errors.ErrTransportClosed
			}

			return line, nil
		default:
			return "", errors.ErrReadTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", errors.ErrTransportClosed
		}

		return line, nil

	case <-timer.C:
		return "", errors.ErrReadTimeout
	}
}

// IsAlive reports whether the engine process is still running.
func (p *Proc) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Pid returns the engine process identifier.
func (p *Proc) Pid() int {
	return p.cmd.Process.Pid
}

// Terminate closes stdin, waits terminateGrace for the process to exit
// voluntarily (the caller is expected to have sent quit already), then
// force-kills it. Safe to call multiple times and from any goroutine.
func (p *Proc) Terminate() {
	p.termOnce.Do(func() {
		p.mu.Lock()

		if !p.stdinClosed {
			p.stdinClosed = true
			_ = p.stdin.Close()
		}

		p.mu.Unlock()

		select {
		case <-p.exited:
			p.log.Debug("Engine process exited cleanly")

			return
		case <-time.After(terminateGrace):
		}

		p.log.Warn("Engine process did not exit after grace period, killing")

		if err := p.cmd.Process.Kill(); err != nil {
			p.log.Debug("Kill failed", "error", err)
		}

		p.drainUntilExited()
	})
}

// drainUntilExited blocks until the pump has reaped the process,
// discarding any remaining buffered output. Without the discard an engine
// that kept streaming after quit can have wedged the pump on a full line
// buffer, in which case the pump never reaches Wait and exited never
// closes. Nothing buffered matters once the kill has been issued.
func (p *Proc) drainUntilExited() {
	lines := p.lines

	for {
		select {
		case <-p.exited:
			return

		case _, ok := <-lines:
			if !ok {
				// Pump finished; only the reap remains.
				lines = nil
			}
		}
	}
}
