package uciflow

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pawnsight/uciflow/internal/errors"
	"github.com/pawnsight/uciflow/internal/uci"
)

// Explorer runs a multi-line (MultiPV) search on one position. Updates
// are gated while a fresh search settles and throttled per line index,
// so downstream consumers see at most one update per index per
// UpdateInterval regardless of how fast the engine emits lines.
//
// An Explorer is one-shot: once stopped it cannot be restarted.
type Explorer struct {
	log  *slog.Logger
	opts *Options

	newSession sessionFactory

	mu         sync.Mutex
	started    bool
	enginePath string
	lastFEN    string
	fatalErr   error

	posCh     chan string
	multipvCh chan int
	detachCh  chan chan engineSession
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	updates chan Update

	group *errgroup.Group
}

// NewExplorer builds an Explorer. It does nothing until Start or
// StartWithSession.
func NewExplorer(opts ...Option) *Explorer {
	options := applyOptions(opts)

	return &Explorer{
		log:        options.Logger.With("component", "explorer"),
		opts:       options,
		newSession: newEngineSession,
		posCh:      make(chan string, 1),
		multipvCh:  make(chan int, 1),
		detachCh:   make(chan chan engineSession),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		updates:    make(chan Update, 64),
		group:      &errgroup.Group{},
	}
}

// Start launches the worker with a freshly spawned engine process.
func (x *Explorer) Start(enginePath, fen string) error {
	return x.launch(enginePath, fen, nil)
}

// StartWithSession launches the worker on a suspended session handed
// over from another service. The session's process is reused; if it
// died while suspended, a fresh process is spawned transparently.
func (x *Explorer) StartWithSession(sess engineSession, enginePath, fen string) error {
	return x.launch(enginePath, fen, sess)
}

func (x *Explorer) launch(enginePath, fen string, adopted engineSession) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.started {
		return errors.ErrAlreadyRunning
	}

	x.started = true
	x.enginePath = enginePath
	x.lastFEN = fen

	x.group.Go(func() error {
		err := x.run(enginePath, fen, adopted)
		x.finish(err)

		return err
	})

	return nil
}

// UpdatePosition swaps the explored position. Non-blocking; only the
// newest queued position survives.
func (x *Explorer) UpdatePosition(fen string) error {
	if !x.Running() {
		return errors.ErrNotRunning
	}

	for {
		select {
		case x.posCh <- fen:
			return nil
		default:
			select {
			case <-x.posCh:
			default:
			}
		}
	}
}

// SetMultiPV changes how many candidate lines the engine produces. The
// protocol cannot change this mid-search, so the worker restarts the
// search with the new value. Non-blocking; only the newest queued value
// survives.
func (x *Explorer) SetMultiPV(n int) error {
	if n < 1 {
		return fmt.Errorf("multipv must be >= 1, got %d", n)
	}

	if !x.Running() {
		return errors.ErrNotRunning
	}

	for {
		select {
		case x.multipvCh <- n:
			return nil
		default:
			select {
			case <-x.multipvCh:
			default:
			}
		}
	}
}

// Stop signals the worker and returns immediately; observe Done for
// full teardown.
func (x *Explorer) Stop() {
	x.stopOnce.Do(func() {
		close(x.stopCh)
	})
}

// Updates is the stream of forwarded analysis lines. Closed when the
// worker exits.
func (x *Explorer) Updates() <-chan Update { return x.updates }

// Done is closed when the worker has fully exited.
func (x *Explorer) Done() <-chan struct{} { return x.done }

// Err returns the fatal error that ended the worker, if any. Meaningful
// after Done is closed.
func (x *Explorer) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.fatalErr
}

// EnginePath returns the engine binary this explorer was started with.
func (x *Explorer) EnginePath() string {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.enginePath
}

// Running reports whether the worker is live.
func (x *Explorer) Running() bool {
	x.mu.Lock()
	started := x.started
	x.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-x.done:
		return false
	default:
		return true
	}
}

func (x *Explorer) run(enginePath, fen string, adopted engineSession) error {
	p := x.opts.Params.TaskParameters(enginePath, TaskExplore)

	sess, err := x.acquire(enginePath, fen, adopted, p)
	if err != nil {
		return err
	}

	owned := true

	defer func() {
		if owned {
			sess.Quit()
		}
	}()

	gate := newSearchGate(time.Now(), x.opts.EstablishDelay, x.opts.EstablishBatches)
	throttle := newLineThrottle(x.opts.UpdateInterval)

	for {
		select {
		case <-x.stopCh:
			_ = sess.StopSearch()

			return nil

		case next := <-x.posCh:
		coalesce:
			for {
				select {
				case f := <-x.posCh:
					next = f
				default:
					break coalesce
				}
			}

			if err := sess.SetPosition(next); err != nil {
				return err
			}

			x.mu.Lock()
			x.lastFEN = next
			x.mu.Unlock()

			if sess.State() != uci.StateSearching {
				if err := sess.StartSearch(p); err != nil {
					return err
				}

				gate = newSearchGate(time.Now(), x.opts.EstablishDelay, x.opts.EstablishBatches)
				throttle.reset()
			}

		case n := <-x.multipvCh:
		coalescePV:
			for {
				select {
				case v := <-x.multipvCh:
					n = v
				default:
					break coalescePV
				}
			}

			if n == p.MultiPV {
				continue
			}

			p.MultiPV = n

			if err := sess.StopSearch(); err != nil {
				return err
			}

			if err := sess.StartSearch(p); err != nil {
				return err
			}

			gate = newSearchGate(time.Now(), x.opts.EstablishDelay, x.opts.EstablishBatches)
			throttle.reset()

			x.log.Debug("MultiPV changed, search restarted", "multipv", n)

		case reply := <-x.detachCh:
			// Leave the session suspended so the next owner can resume
			// it. A failure here means the session is already terminated;
			// the next owner detects that and respawns.
			_ = sess.Suspend()
			reply <- sess
			owned = false

			x.log.Info("Session detached for handback", "pid", sess.Pid())

			return nil

		default:
			lines, _, err := sess.ReadUpdates(evalReadWait)
			if err != nil {
				return err
			}

			if len(lines) > 0 && gate.admit(lines, time.Now()) {
				for _, l := range lines {
					throttle.offer(l)
				}
			}

			// A pending update must flush once its interval elapses even
			// when the engine has gone quiet, so the due check runs on
			// every pass, not only when new lines arrived.
			for _, l := range throttle.due(time.Now()) {
				x.forward(Update{Position: sess.LastPosition(), Line: l})
			}
		}
	}
}

// acquire either resumes the adopted session or spawns a fresh one. An
// adoption whose process died while suspended falls back to a fresh
// spawn.
func (x *Explorer) acquire(enginePath, fen string, adopted engineSession, p ParameterSet) (engineSession, error) {
	if adopted != nil {
		err := adopted.Resume(fen, p)
		if err == nil {
			x.log.Info("Adopted session resumed", "pid", adopted.Pid())

			return adopted, nil
		}

		var died *SuspendedProcessDiedError
		if !stderrors.As(err, &died) {
			return nil, err
		}

		x.log.Warn("Adopted session's engine died, spawning fresh process", "pid", died.Pid)
	}

	sess, err := x.newSession(x.log, enginePath, x.opts, p)
	if err != nil {
		return nil, err
	}

	if err := sess.SetPosition(fen); err != nil {
		sess.Quit()

		return nil, err
	}

	if err := sess.StartSearch(p); err != nil {
		sess.Quit()

		return nil, err
	}

	return sess, nil
}

func (x *Explorer) forward(u Update) {
	select {
	case x.updates <- u:
	default:
		x.log.Debug("Update dropped", "index", u.Line.Index)
	}
}

func (x *Explorer) finish(err error) {
	x.mu.Lock()

	if err != nil {
		x.fatalErr = err
	}

	x.mu.Unlock()

	close(x.updates)
	close(x.done)

	if err != nil {
		x.log.Error("Explorer stopped", "error", err)
	}
}

// stopDetach stops the worker and takes the session back without
// quitting it. Used by the Coordinator to hand the session to its
// previous owner.
func (x *Explorer) stopDetach() (engineSession, error) {
	if !x.Running() {
		return nil, errors.ErrNotRunning
	}

	reply := make(chan engineSession, 1)

	select {
	case x.detachCh <- reply:
	case <-x.done:
		return nil, errors.ErrNotRunning
	case <-time.After(handoffTimeout):
		return nil, fmt.Errorf("session detach: explorer worker did not respond within %s", handoffTimeout)
	}

	select {
	case sess := <-reply:
		return sess, nil
	case <-x.done:
		return nil, x.Err()
	}
}
