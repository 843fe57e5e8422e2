package uciflow

import (
	"log/slog"
	"time"

	"github.com/pawnsight/uciflow/internal/transport"
	"github.com/pawnsight/uciflow/internal/uci"
)

// engineSession is the slice of *uci.Session the services drive. Tests
// substitute scripted fakes; the Coordinator moves values of this type
// between services during handoff.
type engineSession interface {
	Initialize(path string, timeout time.Duration) error
	ApplyOptions(opts map[string]string) error
	SetPosition(fen string) error
	StartSearch(p ParameterSet) error
	StopSearch() error
	ReadUpdates(wait time.Duration) ([]AnalysisLine, bool, error)
	Suspend() error
	Resume(fen string, p ParameterSet) error
	Quit()
	State() uci.State
	Pid() int
	LastPosition() string
	SetSANLimit(n int)
}

// sessionFactory spawns an engine process and completes the handshake
// and option setup, returning a session in Ready state. Services hold a
// factory field so tests can inject fakes.
type sessionFactory func(log *slog.Logger, enginePath string, opts *Options, p ParameterSet) (engineSession, error)

// newEngineSession is the production factory: spawn, handshake, apply
// the parameter set's engine options with one readiness round-trip.
func newEngineSession(log *slog.Logger, enginePath string, opts *Options, p ParameterSet) (engineSession, error) {
	proc, err := transport.Spawn(log, enginePath)
	if err != nil {
		return nil, err
	}

	sess := uci.NewSession(log, proc)
	sess.SetSANLimit(opts.SANMoveLimit)

	if err := sess.Initialize(enginePath, opts.HandshakeTimeout); err != nil {
		return nil, err
	}

	if err := sess.ApplyOptions(p.EngineOptions()); err != nil {
		sess.Quit()

		return nil, err
	}

	return sess, nil
}
