package httpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/payment"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"go.uber.org/zap"
)

func (s *Server) balance(c *fiber.Ctx) error {
	uid := userID(c)
	b, err := s.sessions.Balance(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(wagerdto.Wallet{UserID: uid, Balance: b.StringFixed(2)})
}

func (s *Server) transactions(c *fiber.Ctx) error {
	page, err := s.sessions.Transactions(c.UserContext(), userID(c), pageOf(c))
	if err != nil {
		return err
	}
	out := wagerdto.TransactionList{
		Transactions: make([]wagerdto.Transaction, 0, len(page.Entries)),
		Page:         page.Page.Page,
		PerPage:      page.Page.PerPage,
		Total:        page.Total,
	}
	for _, e := range page.Entries {
		out.Transactions = append(out.Transactions, session.EntryView(e))
	}
	return c.JSON(out)
}

func (s *Server) deposit(c *fiber.Ctx) error {
	if s.deposits == nil {
		return game.InvalidState("Deposits are not enabled")
	}
	var req wagerdto.DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody()
	}
	e, ack, err := s.deposits.Initiate(c.UserContext(), userID(c), req.Amount, req.PhoneNumber)
	if err != nil {
		return err
	}
	return c.JSON(wagerdto.DepositResponse{
		Message:           s.msgs.Text("wallet.deposit_initiated", map[string]any{"Amount": e.Amount.StringFixed(2)}),
		TransactionID:     e.UUID,
		CheckoutRequestID: ack.CheckoutRequestID,
		CustomerMessage:   ack.CustomerMessage,
	})
}

// mpesaCallback always answers 200 for known deposits so the gateway stops retrying.
func (s *Server) mpesaCallback(c *fiber.Ctx) error {
	if !s.callbackAuthorized(c) {
		obslog.L().Warn("mpesa_callback_rejected", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusForbidden).JSON(wagerdto.ErrorResponse{Error: "unauthorized", Message: "Invalid callback secret"})
	}
	if s.deposits == nil {
		return game.NotFound("Transaction not found")
	}
	var cb payment.Callback
	if err := json.Unmarshal(c.Body(), &cb); err != nil {
		return game.Validation("No data received")
	}
	_, applied, err := s.deposits.HandleCallback(c.UserContext(), cb.Body.StkCallback)
	if err != nil {
		return err
	}
	msg := s.msgs.Text("wallet.deposit_confirmed", nil)
	if !applied {
		msg = "Callback already processed"
	} else if cb.Body.StkCallback.ResultCode != 0 {
		msg = s.msgs.Text("wallet.deposit_failed", map[string]any{"Reason": cb.Body.StkCallback.ResultDesc})
	}
	return c.JSON(wagerdto.MessageResponse{Message: msg})
}
