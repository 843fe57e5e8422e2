package uciflow

import (
	"time"

	"github.com/pawnsight/uciflow/internal/params"
	"github.com/pawnsight/uciflow/internal/uci"
)

// ParameterSet describes the bounds and options for one search. Depth
// and MoveTime of zero mean unbounded.
type ParameterSet = uci.ParameterSet

// AnalysisLine is one ranked candidate continuation from a search.
type AnalysisLine = uci.AnalysisLine

// Score is an engine evaluation, normalized to White's perspective.
type Score = uci.Score

// Task names for parameter lookup.
const (
	TaskEvaluation = params.TaskEvaluation
	TaskBatch      = params.TaskBatch
	TaskExplore    = params.TaskExplore
)

// Update is one forwarded analysis line together with the position it
// belongs to. Position lets a consumer detect and discard anything stale
// after it requested a position change.
type Update struct {
	Position string
	Line     AnalysisLine
}

// AnalysisRequest asks the batch analyzer for a before/after evaluation
// of one played move. ID is assigned on enqueue when left empty.
type AnalysisRequest struct {
	ID             string
	PositionBefore string
	PositionAfter  string
	MoveNumber     int
	MovePlayed     string

	// MultiPV overrides how many candidate lines the before-move search
	// produces. Zero uses the batch task default.
	MultiPV int
}

// MoveResult bundles the two searches for one request: the candidate
// lines available before the move and the evaluation after it. Err is
// set for per-request failures; the rest of the queue still runs unless
// the engine process itself died.
type MoveResult struct {
	RequestID  string
	MoveNumber int
	MovePlayed string
	Before     []AnalysisLine
	After      AnalysisLine
	Err        error
}

// BatchProgress is a periodic notice while a batch request's search
// runs.
type BatchProgress struct {
	RequestID  string
	MoveNumber int

	// Phase is "before" or "after", naming which of the request's two
	// searches is running.
	Phase string

	Depth    int
	SelDepth int
	Score    Score
	Elapsed  time.Duration
}

// ParameterSource resolves the ParameterSet to use for a given engine
// binary and task. Implementations must be safe for concurrent use; the
// services call it from their worker goroutines.
type ParameterSource interface {
	TaskParameters(enginePath, task string) ParameterSet
}

// DefaultParameters returns the documented fallback ParameterSet for a
// task, used whenever no ParameterSource is configured or the source has
// nothing for the engine.
func DefaultParameters(task string) ParameterSet {
	return params.DefaultParameters(task)
}
