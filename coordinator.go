package uciflow

import (
	"log/slog"
	"sync"

	"github.com/pawnsight/uciflow/internal/errors"
)

// Coordinator lets the Evaluator and the Explorer share one engine
// process when both target the same engine binary: instead of spawning
// a second process, the Evaluator's live session is suspended and its
// ownership transferred to the Explorer, then handed back when
// exploration ends.
//
// A session has exactly one owning service at any instant; the transfer
// is atomic from the Coordinator's point of view, and neither service
// issues commands to a session it does not currently own.
type Coordinator struct {
	log *slog.Logger

	mu            sync.Mutex
	evaluator     *Evaluator
	explorer      *Explorer
	handoffActive bool
}

// NewCoordinator wires a Coordinator over an Evaluator and an Explorer.
func NewCoordinator(evaluator *Evaluator, explorer *Explorer, opts ...Option) *Coordinator {
	options := applyOptions(opts)

	return &Coordinator{
		log:       options.Logger.With("component", "coordinator"),
		evaluator: evaluator,
		explorer:  explorer,
	}
}

// AcquireForExploration starts the Explorer on enginePath and fen. When
// the Evaluator is running on the same binary its session is handed
// over; otherwise the Evaluator (if running) is stopped normally and a
// fresh process is spawned for the Explorer.
func (c *Coordinator) AcquireForExploration(enginePath, fen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.explorer.Running() {
		return errors.ErrAlreadyRunning
	}

	if c.evaluator != nil && c.evaluator.Running() && c.evaluator.EnginePath() == enginePath {
		sess, err := c.evaluator.lendSession()
		if err == nil {
			if startErr := c.explorer.StartWithSession(sess, enginePath, fen); startErr != nil {
				// Hand the session straight back so evaluation continues.
				_ = c.evaluator.reclaimSession()

				return startErr
			}

			c.handoffActive = true
			c.log.Info("Session handed to explorer", "engine", enginePath)

			return nil
		}

		c.log.Warn("Handoff failed, falling back to fresh spawn", "error", err)
	}

	if c.evaluator != nil && c.evaluator.Running() {
		c.evaluator.Stop()
	}

	return c.explorer.Start(enginePath, fen)
}

// ReleaseFromExploration ends exploration. After a handoff the session
// goes back to the Evaluator, which resumes on its last known position;
// without one the Explorer just stops and releases its own process.
func (c *Coordinator) ReleaseFromExploration() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.handoffActive {
		c.explorer.Stop()

		return nil
	}

	c.handoffActive = false

	// The evaluator's parked worker still holds the same session object;
	// detaching only guarantees the explorer has stopped touching it.
	// Even if the detach fails (explorer already dead), the evaluator
	// must be unparked so it can resume or respawn.
	if _, err := c.explorer.stopDetach(); err != nil {
		c.log.Warn("Explorer detach failed", "error", err)
	}

	c.log.Info("Session handed back to evaluator")

	return c.evaluator.reclaimSession()
}

// HandoffActive reports whether the Explorer currently runs on a
// session borrowed from the Evaluator.
func (c *Coordinator) HandoffActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handoffActive
}
