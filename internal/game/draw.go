package game

import "time"

// OfferDraw records a pending draw offer from userID.
func (g *Game) OfferDraw(userID string) error {
	if err := g.drawPreconditions(userID); err != nil {
		return err
	}
	if g.DrawOfferedBy != "" {
		return InvalidState("Draw already offered")
	}
	g.DrawOfferedBy = userID
	return nil
}

// AcceptDraw completes the game as a draw. Only the recipient of the offer may accept.
func (g *Game) AcceptDraw(userID string, now time.Time) error {
	if err := g.drawReply(userID, "Cannot accept your own draw offer"); err != nil {
		return err
	}
	return g.finish(OutcomeDraw, TermAgreement, now)
}

// DeclineDraw clears the pending offer; the game stays ACTIVE.
func (g *Game) DeclineDraw(userID string) error {
	if err := g.drawReply(userID, "Cannot decline your own draw offer"); err != nil {
		return err
	}
	g.DrawOfferedBy = ""
	return nil
}

func (g *Game) drawPreconditions(userID string) error {
	if g.Status != StatusActive {
		return InvalidState("Game is not active")
	}
	if !g.IsParticipant(userID) {
		return Unauthorized("You are not a player in this game")
	}
	return nil
}

func (g *Game) drawReply(userID, selfMsg string) error {
	if err := g.drawPreconditions(userID); err != nil {
		return err
	}
	if g.DrawOfferedBy == "" {
		return InvalidState("No draw offer exists")
	}
	if g.DrawOfferedBy == userID {
		return InvalidState(selfMsg)
	}
	return nil
}
