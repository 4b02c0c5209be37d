// Package archive renders finished games as PGN and stores them in object storage.
package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-wager/internal/game"
)

func resultToken(o game.Outcome) string {
	switch o {
	case game.OutcomeWhiteWin:
		return "1-0"
	case game.OutcomeBlackWin:
		return "0-1"
	case game.OutcomeDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// PGN renders g with a seven-tag roster plus TimeControl, Termination and the wager.
func PGN(g *game.Game) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.CreatedAt
	if g.EndTime != nil {
		date = *g.EndTime
	}
	if date.IsZero() {
		date = time.Now()
	}
	result := resultToken(g.Outcome)
	black := g.BlackID
	if black == "" {
		black = "?"
	}

	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, sanitize(value))
	}
	tag("Event", "Wager match")
	tag("Site", "chess-wager")
	tag("Date", date.UTC().Format("2006.01.02"))
	tag("Round", "-")
	tag("White", g.WhiteID)
	tag("Black", black)
	tag("Result", result)
	tag("GameId", g.ID)
	tag("TimeControl", fmt.Sprintf("%d+%d", g.BaseTime, g.Increment))
	if g.Termination != game.TermNone {
		tag("Termination", string(g.Termination))
	}
	if g.BetAmount.IsPositive() {
		tag("Stake", g.BetAmount.StringFixed(2))
	}
	b.WriteString("\n")

	for i := 0; i < len(g.Moves); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(g.Moves[i]))
		if i+1 < len(g.Moves) {
			b.WriteString(strings.TrimSpace(g.Moves[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	b.WriteString("\n")
	return b.String()
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
