// Package notation answers the two chess-rules questions the protocol
// layer needs: whose turn a FEN encodes, and how a principal variation in
// long algebraic (UCI) form reads in standard algebraic notation.
package notation

import (
	"strings"

	"github.com/notnil/chess"
)

// BlackToMove reports whether the side to move in fen is Black. A FEN that
// cannot be parsed is treated as White to move; score normalization then
// passes engine values through unchanged, which is the least surprising
// behavior for garbage input.
func BlackToMove(fen string) bool {
	fn, err := chess.FEN(fen)
	if err != nil {
		return false
	}

	return chess.NewGame(fn).Position().Turn() == chess.Black
}

// PVToSAN renders up to max moves of a UCI principal variation as a single
// space-separated SAN string, starting from the position in fen.
//
// Conversion stops at the first move that is illegal in the running
// position; engines occasionally emit PVs from a transposition table entry
// that no longer applies. If even the first move fails, the UCI moves are
// returned as-is so the caller always has something displayable.
func PVToSAN(fen string, moves []string, max int) string {
	if len(moves) == 0 {
		return ""
	}

	if max > 0 && len(moves) > max {
		moves = moves[:max]
	}

	fn, err := chess.FEN(fen)
	if err != nil {
		return strings.Join(moves, " ")
	}

	pos := chess.NewGame(fn).Position()
	san := make([]string, 0, len(moves))

	for _, uci := range moves {
		decoded, err := chess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			break
		}

		// Decoding alone does not check legality; match against the
		// position's move list so an off-position PV continuation stops
		// the conversion instead of slipping through.
		move := matchLegal(pos, decoded)
		if move == nil {
			break
		}

		san = append(san, chess.AlgebraicNotation{}.Encode(pos, move))
		pos = pos.Update(move)
	}

	if len(san) == 0 {
		return strings.Join(moves, " ")
	}

	return strings.Join(san, " ")
}

// matchLegal returns the position's legal move matching the decoded
// squares and promotion, or nil when no such move exists. The returned
// move carries the tags the SAN encoder needs.
func matchLegal(pos *chess.Position, decoded *chess.Move) *chess.Move {
	for _, vm := range pos.ValidMoves() {
		if vm.S1() == decoded.S1() && vm.S2() == decoded.S2() && vm.Promo() == decoded.Promo() {
			return vm
		}
	}

	return nil
}
