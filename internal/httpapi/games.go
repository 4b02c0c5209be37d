package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/pkg/wagerdto"
)

func (s *Server) respond(c *fiber.Ctx, status int, res *session.Result) error {
	return c.Status(status).JSON(wagerdto.GameResponse{
		Message: res.Message,
		Game:    s.sessions.View(res.Game),
		FEN:     res.FEN,
	})
}

func (s *Server) createGame(c *fiber.Ctx) error {
	var req wagerdto.CreateGameRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	res, err := s.sessions.Create(c.UserContext(), userID(c), session.CreateParams{
		BaseTime:  req.BaseTime,
		Increment: req.Increment,
		BetAmount: req.BetAmount,
		IsRated:   req.IsRated,
	})
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusCreated, res)
}

func (s *Server) move(c *fiber.Ctx) error {
	var req wagerdto.MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	res, err := s.sessions.Move(c.UserContext(), c.Params("id"), userID(c), session.MoveParams{
		Notation:   req.Move,
		ClientTime: session.ClientTime(req.MoveTime),
	})
	if err != nil {
		return err
	}
	return s.respond(c, fiber.StatusOK, res)
}

type gameOp func(ctx context.Context, gameID, userID string) (*session.Result, error)

// simple wraps operations that take only the game id and caller.
func (s *Server) simple(op gameOp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := op(c.UserContext(), c.Params("id"), userID(c))
		if err != nil {
			return err
		}
		return s.respond(c, fiber.StatusOK, res)
	}
}

func (s *Server) joinGame(c *fiber.Ctx) error    { return s.simple(s.sessions.Join)(c) }
func (s *Server) resign(c *fiber.Ctx) error      { return s.simple(s.sessions.Resign)(c) }
func (s *Server) cancel(c *fiber.Ctx) error      { return s.simple(s.sessions.Cancel)(c) }
func (s *Server) offerDraw(c *fiber.Ctx) error   { return s.simple(s.sessions.OfferDraw)(c) }
func (s *Server) acceptDraw(c *fiber.Ctx) error  { return s.simple(s.sessions.AcceptDraw)(c) }
func (s *Server) declineDraw(c *fiber.Ctx) error { return s.simple(s.sessions.DeclineDraw)(c) }
func (s *Server) getGame(c *fiber.Ctx) error     { return s.simple(s.sessions.Get)(c) }

func (s *Server) board(c *fiber.Ctx) error {
	png, err := s.sessions.Board(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(png)
}

func pageOf(c *fiber.Ctx) session.Page {
	return session.Page{Page: c.QueryInt("page", 1), PerPage: c.QueryInt("per_page", 0)}.Normalize()
}

func (s *Server) gameList(c *fiber.Ctx, page *session.GamePage) error {
	return c.JSON(wagerdto.GameList{
		Games:   session.Views(page.Games, s.sessions.Now()),
		Page:    page.Page.Page,
		PerPage: page.Page.PerPage,
		Total:   page.Total,
	})
}

func (s *Server) listOpen(c *fiber.Ctx) error {
	page, err := s.sessions.ListOpen(c.UserContext(), pageOf(c))
	if err != nil {
		return err
	}
	return s.gameList(c, page)
}

func (s *Server) listMine(c *fiber.Ctx) error {
	page, err := s.sessions.ListMine(c.UserContext(), userID(c), pageOf(c))
	if err != nil {
		return err
	}
	return s.gameList(c, page)
}

func (s *Server) history(c *fiber.Ctx) error {
	page, err := s.sessions.History(c.UserContext(), userID(c), pageOf(c))
	if err != nil {
		return err
	}
	return s.gameList(c, page)
}
