package uciflow

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pawnsight/uciflow/internal/errors"
)

// batchReadWait bounds one blocking read while waiting for a bounded
// search to finish.
const batchReadWait = 100 * time.Millisecond

// searchSlack is added to a request's time bound before the worker
// declares the search stuck and moves on.
const searchSlack = 30 * time.Second

// BatchAnalyzer analyzes queued move requests strictly in FIFO order on
// one persistent engine process, two bounded searches per request:
// before the move (several candidate lines) and after it (the resulting
// evaluation). Results arrive on Results in enqueue order; periodic
// notices arrive on Progress while a search runs.
//
// A single failed request is reported on its MoveResult and skipped;
// the batch only aborts when the engine process itself dies.
type BatchAnalyzer struct {
	log  *slog.Logger
	opts *Options

	newSession sessionFactory

	mu       sync.Mutex
	started  bool
	fatalErr error
	queue    []AnalysisRequest

	queueSig chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	results  chan MoveResult
	progress chan BatchProgress

	group *errgroup.Group
}

// NewBatchAnalyzer builds a BatchAnalyzer. It does nothing until Start.
func NewBatchAnalyzer(opts ...Option) *BatchAnalyzer {
	options := applyOptions(opts)

	return &BatchAnalyzer{
		log:        options.Logger.With("component", "batch"),
		opts:       options,
		newSession: newEngineSession,
		queueSig:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		results:    make(chan MoveResult, 64),
		progress:   make(chan BatchProgress, 16),
		group:      &errgroup.Group{},
	}
}

// Start launches the worker on enginePath. Requests may be enqueued
// before or after Start.
func (b *BatchAnalyzer) Start(enginePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.ErrAlreadyRunning
	}

	b.started = true

	b.group.Go(func() error {
		err := b.run(enginePath)
		b.finish(err)

		return err
	})

	return nil
}

// Enqueue appends a request to the queue and returns its ID (assigned
// when the request carries none). Safe to call concurrently with the
// worker.
func (b *BatchAnalyzer) Enqueue(req AnalysisRequest) (string, error) {
	select {
	case <-b.stopCh:
		return "", errors.ErrBatchStopped
	default:
	}

	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	b.mu.Lock()
	b.queue = append(b.queue, req)
	b.mu.Unlock()

	select {
	case b.queueSig <- struct{}{}:
	default:
	}

	return req.ID, nil
}

// QueueLength returns how many requests are waiting.
func (b *BatchAnalyzer) QueueLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queue)
}

// Stop clears the pending queue and signals the worker to exit after
// finishing its current request, then returns immediately.
func (b *BatchAnalyzer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.queue = nil
		b.mu.Unlock()

		close(b.stopCh)
	})
}

// Results is the stream of per-move results, in enqueue order. Closed
// when the worker exits.
func (b *BatchAnalyzer) Results() <-chan MoveResult { return b.results }

// Progress is the stream of periodic search progress notices. Closed
// when the worker exits.
func (b *BatchAnalyzer) Progress() <-chan BatchProgress { return b.progress }

// Done is closed when the worker has fully exited.
func (b *BatchAnalyzer) Done() <-chan struct{} { return b.done }

// Err returns the fatal error that ended the worker, if any. Meaningful
// after Done is closed.
func (b *BatchAnalyzer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.fatalErr
}

func (b *BatchAnalyzer) run(enginePath string) error {
	p := b.opts.Params.TaskParameters(enginePath, TaskBatch)

	sess, err := b.newSession(b.log, enginePath, b.opts, p)
	if err != nil {
		return err
	}

	defer sess.Quit()

	for {
		req, ok := b.dequeue()
		if !ok {
			select {
			case <-b.stopCh:
				return nil
			case <-b.queueSig:
				continue
			}
		}

		res, err := b.process(sess, req, p)
		b.emitResult(res)

		if err != nil {
			return err
		}
	}
}

func (b *BatchAnalyzer) dequeue() (AnalysisRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return AnalysisRequest{}, false
	}

	req := b.queue[0]
	b.queue = b.queue[1:]

	return req, true
}

// process runs both searches for one request. The returned error is
// non-nil only for failures that kill the whole batch; per-request
// failures land on the MoveResult instead.
func (b *BatchAnalyzer) process(sess engineSession, req AnalysisRequest, p ParameterSet) (MoveResult, error) {
	res := MoveResult{
		RequestID:  req.ID,
		MoveNumber: req.MoveNumber,
		MovePlayed: req.MovePlayed,
	}

	beforeParams := p
	if req.MultiPV > 0 {
		beforeParams.MultiPV = req.MultiPV
	}

	before, err := b.searchPhase(sess, req, "before", req.PositionBefore, beforeParams)
	if err != nil {
		res.Err = err

		return res, fatalFor(err)
	}

	res.Before = before

	afterParams := p
	afterParams.MultiPV = 1

	after, err := b.searchPhase(sess, req, "after", req.PositionAfter, afterParams)
	if err != nil {
		res.Err = err

		return res, fatalFor(err)
	}

	if len(after) > 0 {
		res.After = after[0]
	}

	return res, nil
}

// searchPhase runs one bounded search to completion, collecting the
// final line per index and emitting progress notices along the way. The
// bestmove notice is the completion marker.
func (b *BatchAnalyzer) searchPhase(sess engineSession, req AnalysisRequest, phase, fen string, p ParameterSet) ([]AnalysisLine, error) {
	if err := sess.SetPosition(fen); err != nil {
		return nil, err
	}

	if err := sess.StartSearch(p); err != nil {
		return nil, err
	}

	started := time.Now()
	lastProgress := started
	deadline := started.Add(searchBound(p))
	latest := make(map[int]AnalysisLine)

	for {
		lines, sawBest, err := sess.ReadUpdates(batchReadWait)
		if err != nil {
			return nil, err
		}

		for _, l := range lines {
			latest[l.Index] = l
		}

		if sawBest {
			break
		}

		now := time.Now()

		if now.After(deadline) {
			_ = sess.StopSearch()

			return nil, fmt.Errorf("%w: %s search on move %d did not complete", errors.ErrReadTimeout, phase, req.MoveNumber)
		}

		if now.Sub(lastProgress) >= b.opts.ProgressInterval {
			if pl, ok := latest[1]; ok {
				b.emitProgress(BatchProgress{
					RequestID:  req.ID,
					MoveNumber: req.MoveNumber,
					Phase:      phase,
					Depth:      pl.Depth,
					SelDepth:   pl.SelDepth,
					Score:      pl.Score,
					Elapsed:    now.Sub(started),
				})

				lastProgress = now
			}
		}
	}

	out := make([]AnalysisLine, 0, len(latest))
	for _, l := range latest {
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out, nil
}

// searchBound is how long searchPhase waits before declaring the search
// stuck. Bounded searches get their own bound plus slack; a depth-only
// bound has no time equivalent, so it just gets the slack.
func searchBound(p ParameterSet) time.Duration {
	if p.MoveTime > 0 {
		return p.MoveTime + searchSlack
	}

	return searchSlack
}

// fatalFor keeps only the errors that make the whole batch pointless.
func fatalFor(err error) error {
	var crashed *EngineCrashedError
	if stderrors.As(err, &crashed) {
		return err
	}

	return nil
}

func (b *BatchAnalyzer) emitResult(res MoveResult) {
	select {
	case b.results <- res:
	case <-b.stopCh:
		// Stopped with no consumer left; the result is abandoned.
	}
}

func (b *BatchAnalyzer) emitProgress(pr BatchProgress) {
	select {
	case b.progress <- pr:
	default:
		// Progress is advisory; never stall the worker for it.
	}
}

func (b *BatchAnalyzer) finish(err error) {
	b.mu.Lock()

	if err != nil {
		b.fatalErr = err
	}

	b.mu.Unlock()

	close(b.results)
	close(b.progress)
	close(b.done)

	if err != nil {
		b.log.Error("Batch aborted", "error", err)
	}
}
