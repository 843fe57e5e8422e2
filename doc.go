// Package uciflow coordinates long-running UCI analysis engines across
// three concurrent usage modes that share one protocol core: continuous
// single-position evaluation, sequential batch analysis of every move in
// a game, and multi-line (MultiPV) exploration of one position.
//
// # Continuous Evaluation
//
// An Evaluator owns one engine process and keeps an unbounded search
// running on the current position. Position changes are cheap: the same
// process is re-pointed, never restarted.
//
//	ev := uciflow.NewEvaluator(uciflow.WithLogger(slog.Default()))
//	if err := ev.Start("/usr/bin/stockfish", startFEN); err != nil {
//	    log.Fatal(err)
//	}
//	defer ev.Stop()
//
//	go func() {
//	    for u := range ev.Updates() {
//	        fmt.Printf("depth %d score %s pv %s\n", u.Line.Depth, u.Line.Score, u.Line.SAN)
//	    }
//	}()
//
//	ev.UpdatePosition(nextFEN)
//
// # Batch Analysis
//
// A BatchAnalyzer reuses one persistent engine process to analyze every
// move of a game in order: two bounded searches per move (before the
// move with several candidate lines, after the move for the resulting
// evaluation), bundled into one MoveResult per request.
//
//	ba := uciflow.NewBatchAnalyzer()
//	if err := ba.Start("/usr/bin/stockfish"); err != nil {
//	    log.Fatal(err)
//	}
//	for _, mv := range moves {
//	    ba.Enqueue(uciflow.AnalysisRequest{
//	        PositionBefore: mv.Before,
//	        PositionAfter:  mv.After,
//	        MoveNumber:     mv.Number,
//	        MovePlayed:     mv.UCI,
//	    })
//	}
//	for res := range ba.Results() {
//	    // results arrive strictly in enqueue order
//	}
//
// # Exploration and Handoff
//
// An Explorer runs a MultiPV search on one position with per-line update
// throttling. When the Explorer targets the same engine binary as a
// running Evaluator, a Coordinator hands the live session over instead
// of spawning a second process, and hands it back when exploration ends:
//
//	co := uciflow.NewCoordinator(ev, ex)
//	co.AcquireForExploration("/usr/bin/stockfish", fen)
//	// ... explore ...
//	co.ReleaseFromExploration()
//
// # Errors
//
// Failures surface as typed errors implementing EngineError and arrive
// asynchronously: services report fatal conditions through Done and Err,
// never by panicking across goroutine boundaries.
package uciflow
