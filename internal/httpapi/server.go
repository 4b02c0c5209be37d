// Package httpapi is the REST surface of the wager service.
package httpapi

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/park285/chess-wager/internal/auth"
	"github.com/park285/chess-wager/internal/msgcat"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/payment"
	"github.com/park285/chess-wager/internal/session"
	"go.uber.org/zap"
)

const localUserID = "user_id"

type Options struct {
	Sessions       *session.Service
	Deposits       *payment.Deposits // nil disables deposit endpoints
	Verifier       auth.Verifier
	Messages       *msgcat.Catalog
	CallbackSecret string
	AllowedOrigins string
}

type Server struct {
	app      *fiber.App
	sessions *session.Service
	deposits *payment.Deposits
	verifier auth.Verifier
	msgs     *msgcat.Catalog
	secret   string
}

func New(o Options) *Server {
	if o.Messages == nil {
		o.Messages = msgcat.Default()
	}
	if o.AllowedOrigins == "" {
		o.AllowedOrigins = "*"
	}
	s := &Server{
		sessions: o.Sessions,
		deposits: o.Deposits,
		verifier: o.Verifier,
		msgs:     o.Messages,
		secret:   o.CallbackSecret,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "chess-wager",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		BodyLimit:             64 * 1024,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(accessLog())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: o.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Post("/payments/mpesa/callback", s.mpesaCallback)
	s.app.Post("/payments/mpesa/callback/:secret", s.mpesaCallback)

	api := s.app.Group("/api", s.authenticate)

	games := api.Group("/games")
	games.Post("/", s.createGame)
	games.Get("/open", s.listOpen)
	games.Get("/mine", s.listMine)
	games.Get("/history", s.history)
	games.Get("/:id", s.getGame)
	games.Get("/:id/board.png", s.board)
	games.Post("/:id/join", s.joinGame)
	games.Post("/:id/move", s.move)
	games.Post("/:id/resign", s.resign)
	games.Post("/:id/cancel", s.cancel)
	games.Post("/:id/draw/offer", s.offerDraw)
	games.Post("/:id/draw/accept", s.acceptDraw)
	games.Post("/:id/draw/decline", s.declineDraw)

	w := api.Group("/wallet")
	w.Get("/", s.balance)
	w.Get("/transactions", s.transactions)
	w.Post("/deposit", s.deposit)
}

// App exposes the fiber app (tests use app.Test).
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.app.ShutdownWithContext(ctx) }

func (s *Server) authenticate(c *fiber.Ctx) error {
	if s.verifier == nil {
		return auth.ErrUnauthenticated
	}
	userID, err := s.verifier.Verify(c.UserContext(), auth.Credentials{
		Token:  auth.BearerToken(c.Get(fiber.HeaderAuthorization)),
		UserID: c.Get("X-User-ID"),
	})
	if err != nil {
		return err
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	v, _ := c.Locals(localUserID).(string)
	return v
}

func (s *Server) callbackAuthorized(c *fiber.Ctx) bool {
	if s.secret == "" {
		return true
	}
	got := c.Params("secret")
	if got == "" {
		got = c.Get("X-Callback-Secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func accessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		if err != nil {
			// resolve the status the error handler will write
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(started)),
			zap.String("ip", c.IP()),
		}
		if uid := userID(c); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		switch {
		case status >= 500:
			obslog.L().Error("http_request", append(fields, zap.Error(err))...)
		case strings.HasPrefix(c.Path(), "/healthz"):
			obslog.L().Debug("http_request", fields...)
		default:
			obslog.L().Info("http_request", fields...)
		}
		return nil
	}
}
