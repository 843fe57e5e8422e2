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

// evalReadWait bounds how long the worker blocks waiting for engine
// output per loop iteration; it is also the latency ceiling for control
// signals (stop, position change, handoff).
const evalReadWait = 30 * time.Millisecond

// handoffTimeout bounds how long a coordinator waits for the worker to
// acknowledge a session transfer.
const handoffTimeout = 2 * time.Second

type handoffReply struct {
	sess engineSession
	err  error
}

// Evaluator keeps an unbounded search running on one position with one
// dedicated engine process. Position changes re-point the running
// process instead of restarting it. All control methods are
// non-blocking; results and fatal errors arrive asynchronously through
// Updates, Done and Err.
//
// An Evaluator is one-shot: once stopped it cannot be restarted.
type Evaluator struct {
	log  *slog.Logger
	opts *Options

	newSession sessionFactory

	mu         sync.Mutex
	started    bool
	enginePath string
	lastFEN    string
	fatalErr   error

	posCh     chan string
	handoffCh chan chan handoffReply
	releaseCh chan chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	updates chan Update

	group *errgroup.Group
}

// NewEvaluator builds an Evaluator. It does nothing until Start.
func NewEvaluator(opts ...Option) *Evaluator {
	options := applyOptions(opts)

	return &Evaluator{
		log:        options.Logger.With("component", "evaluator"),
		opts:       options,
		newSession: newEngineSession,
		posCh:      make(chan string, 1),
		handoffCh:  make(chan chan handoffReply),
		releaseCh:  make(chan chan error),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		updates:    make(chan Update, 64),
		group:      &errgroup.Group{},
	}
}

// Start launches the worker: spawn, handshake, apply options, set the
// position, begin an unbounded search. It returns immediately; spawn
// and handshake failures surface through Done and Err.
func (e *Evaluator) Start(enginePath, fen string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.ErrAlreadyRunning
	}

	e.started = true
	e.enginePath = enginePath
	e.lastFEN = fen

	e.group.Go(func() error {
		err := e.run(enginePath, fen)
		e.finish(err)

		return err
	})

	return nil
}

// UpdatePosition swaps the position under analysis. Non-blocking: the
// request is queued for the worker and, when positions arrive faster
// than the worker consumes them, only the newest survives.
func (e *Evaluator) UpdatePosition(fen string) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if !started {
		return errors.ErrNotRunning
	}

	select {
	case <-e.done:
		return errors.ErrNotRunning
	default:
	}

	for {
		select {
		case e.posCh <- fen:
			return nil
		default:
			// Queue full: the queued position is already stale.
			select {
			case <-e.posCh:
			default:
			}
		}
	}
}

// Stop signals the worker to stop the search and release the engine,
// and returns immediately. The worker sends the protocol-level stop and
// quit on its own cleanup path; observe Done for full teardown.
func (e *Evaluator) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// Updates is the stream of forwarded analysis lines. Closed when the
// worker exits.
func (e *Evaluator) Updates() <-chan Update { return e.updates }

// Done is closed when the worker has fully exited.
func (e *Evaluator) Done() <-chan struct{} { return e.done }

// Err returns the fatal error that ended the worker, if any. Meaningful
// after Done is closed.
func (e *Evaluator) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.fatalErr
}

// EnginePath returns the engine binary this evaluator was started with.
func (e *Evaluator) EnginePath() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.enginePath
}

// LastPosition returns the most recently applied position.
func (e *Evaluator) LastPosition() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastFEN
}

// Running reports whether the worker is live.
func (e *Evaluator) Running() bool {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Evaluator) run(enginePath, fen string) error {
	p := e.opts.Params.TaskParameters(enginePath, TaskEvaluation)

	sess, err := e.newSession(e.log, enginePath, e.opts, p)
	if err != nil {
		return err
	}

	// Ownership moves to the Explorer during a handoff; only quit what
	// is currently ours.
	owned := true

	defer func() {
		if owned {
			sess.Quit()
		}
	}()

	if err := sess.SetPosition(fen); err != nil {
		return err
	}

	if err := sess.StartSearch(p); err != nil {
		return err
	}

	throttle := newLineThrottle(e.opts.UpdateInterval)

	for {
		select {
		case <-e.stopCh:
			_ = sess.StopSearch()

			return nil

		case next := <-e.posCh:
		coalesce:
			for {
				select {
				case f := <-e.posCh:
					next = f
				default:
					break coalesce
				}
			}

			if err := e.applyPosition(sess, next, p); err != nil {
				return err
			}

			throttle.reset()

		case reply := <-e.handoffCh:
			if err := sess.Suspend(); err != nil {
				reply <- handoffReply{err: err}

				continue
			}

			reply <- handoffReply{sess: sess}
			owned = false

			e.log.Info("Session lent for exploration", "pid", sess.Pid())

			// Parked: the session belongs to the Explorer until released.
			select {
			case <-e.stopCh:
				return nil

			case rel := <-e.releaseCh:
				reclaimed, err := e.reclaim(sess, enginePath, p)
				rel <- err

				if err != nil {
					return err
				}

				sess = reclaimed
				owned = true

				throttle.reset()
			}

		default:
			lines, _, err := sess.ReadUpdates(evalReadWait)
			if err != nil {
				// An unbounded search never completes on its own, so any
				// error here means the session is gone.
				return err
			}

			for _, l := range lines {
				throttle.offer(l)
			}

			for _, l := range throttle.due(time.Now()) {
				e.forward(Update{Position: sess.LastPosition(), Line: l})
			}
		}
	}
}

// applyPosition re-points the running search. The same process keeps
// running; only the position and search change.
func (e *Evaluator) applyPosition(sess engineSession, fen string, p ParameterSet) error {
	if err := sess.SetPosition(fen); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastFEN = fen
	e.mu.Unlock()

	// Same-position updates leave the search running; only start a new
	// one when SetPosition actually stopped it.
	if sess.State() != uci.StateSearching {
		return sess.StartSearch(p)
	}

	return nil
}

// reclaim takes the session back after exploration: resume on the last
// position, or spawn a replacement if the process died while suspended.
func (e *Evaluator) reclaim(sess engineSession, enginePath string, p ParameterSet) (engineSession, error) {
	fen := e.LastPosition()

	err := sess.Resume(fen, p)
	if err == nil {
		e.log.Info("Session reclaimed", "pid", sess.Pid())

		return sess, nil
	}

	// Respawn when the process died while suspended or the session was
	// terminated outright while the explorer held it.
	var died *SuspendedProcessDiedError
	if !stderrors.As(err, &died) && sess.State() != uci.StateTerminated {
		return nil, err
	}

	e.log.Warn("Lent session unusable, spawning replacement", "error", err)

	fresh, err := e.newSession(e.log, enginePath, e.opts, p)
	if err != nil {
		return nil, err
	}

	if err := fresh.SetPosition(fen); err != nil {
		fresh.Quit()

		return nil, err
	}

	if err := fresh.StartSearch(p); err != nil {
		fresh.Quit()

		return nil, err
	}

	return fresh, nil
}

func (e *Evaluator) forward(u Update) {
	select {
	case e.updates <- u:
	default:
		// Consumer not keeping up; dropping is safe because every update
		// is superseded by the next one for its index.
		e.log.Debug("Update dropped", "index", u.Line.Index)
	}
}

func (e *Evaluator) finish(err error) {
	e.mu.Lock()

	if err != nil {
		e.fatalErr = err
	}

	e.mu.Unlock()

	close(e.updates)
	close(e.done)

	if err != nil {
		e.log.Error("Evaluator stopped", "error", err)
	}
}

// lendSession suspends the worker's search and transfers session
// ownership to the caller. Used by the Coordinator during handoff.
func (e *Evaluator) lendSession() (engineSession, error) {
	if !e.Running() {
		return nil, errors.ErrNotRunning
	}

	reply := make(chan handoffReply, 1)

	select {
	case e.handoffCh <- reply:
	case <-e.done:
		return nil, errors.ErrNotRunning
	case <-time.After(handoffTimeout):
		return nil, fmt.Errorf("session handoff: evaluator worker did not respond within %s", handoffTimeout)
	}

	select {
	case r := <-reply:
		return r.sess, r.err
	case <-e.done:
		return nil, errors.ErrNotRunning
	}
}

// reclaimSession hands ownership back and resumes evaluation on the
// last known position.
func (e *Evaluator) reclaimSession() error {
	rel := make(chan error, 1)

	select {
	case e.releaseCh <- rel:
	case <-e.done:
		return errors.ErrNotRunning
	case <-time.After(handoffTimeout):
		return fmt.Errorf("session release: evaluator worker did not respond within %s", handoffTimeout)
	}

	select {
	case err := <-rel:
		return err
	case <-e.done:
		return e.Err()
	}
}
