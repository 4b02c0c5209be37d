package game

import "fmt"

// Verdict is the rules oracle's classification of a position.
type Verdict uint8

const (
	VerdictNone Verdict = iota
	VerdictCheckmate
	VerdictStalemate
	VerdictInsufficientMaterial
	VerdictSeventyFiveMove
	VerdictFivefoldRepetition
)

func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictCheckmate:
		return "checkmate"
	case VerdictStalemate:
		return "stalemate"
	case VerdictInsufficientMaterial:
		return "insufficient_material"
	case VerdictSeventyFiveMove:
		return "seventy_five_move_rule"
	case VerdictFivefoldRepetition:
		return "fivefold_repetition"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

// Position is an immutable snapshot produced by the rules oracle.
type Position interface {
	// Turn is the side to move.
	Turn() Color
	// Apply validates notation against this position and returns the next position
	// plus the canonical notation recorded in the move list.
	Apply(notation string) (Position, string, error)
	// Terminal classifies the position.
	Terminal() Verdict
	// Fingerprint is a canonical position identifier (FEN).
	Fingerprint() string
}

// Oracle rebuilds positions from a move list. key identifies the owner of the list
// so implementations may reuse earlier work; an empty key disables reuse.
type Oracle interface {
	Replay(key string, moves []string) (Position, error)
}

// outcomeFor maps a terminal verdict reached after mover's move.
func outcomeFor(v Verdict, mover Color) (Outcome, Termination, bool) {
	switch v {
	case VerdictNone:
		return OutcomeIncomplete, TermNone, false
	case VerdictCheckmate:
		return winFor(mover), TermCheckmate, true
	case VerdictStalemate:
		return OutcomeDraw, TermStalemate, true
	case VerdictInsufficientMaterial:
		return OutcomeDraw, TermInsufficientMaterial, true
	case VerdictSeventyFiveMove:
		return OutcomeDraw, TermSeventyFiveMove, true
	case VerdictFivefoldRepetition:
		return OutcomeDraw, TermFivefoldRepetition, true
	default:
		panic(fmt.Sprintf("game: unknown verdict %d", uint8(v)))
	}
}
