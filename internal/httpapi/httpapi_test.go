package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/park285/chess-wager/internal/auth"
	"github.com/park285/chess-wager/internal/payment"
	"github.com/park285/chess-wager/internal/rules"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/park285/chess-wager/pkg/wagerdto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const serviceToken = "svc-token"

type stubGateway struct{ ref string }

func (g stubGateway) InitiateDeposit(context.Context, decimal.Decimal, string, string) (*payment.Ack, error) {
	return &payment.Ack{CheckoutRequestID: g.ref, ResponseCode: "0", CustomerMessage: "Success. Request accepted for processing"}, nil
}

func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	st := store.NewMemory()
	st.Seed("alice", decimal.NewFromInt(100))
	st.Seed("bob", decimal.NewFromInt(100))
	st.Seed("poor", decimal.NewFromInt(1))

	oracle, err := rules.NewOracle(64)
	require.NoError(t, err)
	svc, err := session.New(session.Options{
		Store:       st,
		Oracle:      oracle,
		Settler:     wallet.Settler{PlatformAccount: "platform"},
		PlatformFee: decimal.RequireFromString("0.2"),
	})
	require.NoError(t, err)

	srv := New(Options{
		Sessions:       svc,
		Deposits:       payment.NewDeposits(st, stubGateway{ref: "ws_CO_100"}, nil),
		Verifier:       auth.NewGatewayVerifier(serviceToken),
		CallbackSecret: "cb-secret",
	})
	return srv.App()
}

func httpDo(t *testing.T, app *fiber.App, method, path, user string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+serviceToken)
		req.Header.Set("X-User-ID", user)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeGame(t *testing.T, raw []byte) wagerdto.GameResponse {
	t.Helper()
	var r wagerdto.GameResponse
	require.NoError(t, json.Unmarshal(raw, &r))
	return r
}

func decodeError(t *testing.T, raw []byte) wagerdto.ErrorResponse {
	t.Helper()
	var r wagerdto.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &r))
	return r
}

func createGame(t *testing.T, app *fiber.App, user, bet string) string {
	t.Helper()
	code, body := httpDo(t, app, http.MethodPost, "/api/games", user, wagerdto.CreateGameRequest{BaseTime: 300, Increment: 5, BetAmount: bet})
	require.Equal(t, http.StatusCreated, code, string(body))
	return decodeGame(t, body).Game.ID
}

func TestHealthz(t *testing.T) {
	app := setupApp(t)
	code, _ := httpDo(t, app, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestUnauthenticated(t *testing.T) {
	app := setupApp(t)
	code, body := httpDo(t, app, http.MethodGet, "/api/wallet", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unauthorized", decodeError(t, body).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("X-User-ID", "alice")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFoolsMateSettlesWager(t *testing.T) {
	app := setupApp(t)
	id := createGame(t, app, "alice", "10")

	code, body := httpDo(t, app, http.MethodPost, "/api/games/"+id+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	joined := decodeGame(t, body)
	require.Equal(t, "ACTIVE", joined.Game.Status)
	require.NotNil(t, joined.Game.BlackPlayerID)

	moves := []struct{ user, move string }{
		{"alice", "f3"}, {"bob", "e7e5"}, {"alice", "g4"}, {"bob", "Qh4#"},
	}
	var last wagerdto.GameResponse
	for _, m := range moves {
		code, body = httpDo(t, app, http.MethodPost, "/api/games/"+id+"/move", m.user, wagerdto.MoveRequest{Move: m.move})
		require.Equal(t, http.StatusOK, code, string(body))
		last = decodeGame(t, body)
	}
	require.Equal(t, "COMPLETED", last.Game.Status)
	require.Equal(t, "BLACK_WIN", last.Game.Outcome)
	require.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, last.Game.Moves)
	require.True(t, last.Game.Settled)

	code, body = httpDo(t, app, http.MethodGet, "/api/wallet", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var w wagerdto.Wallet
	require.NoError(t, json.Unmarshal(body, &w))
	require.Equal(t, "108.00", w.Balance)

	code, body = httpDo(t, app, http.MethodGet, "/api/wallet/transactions?per_page=1", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var txs wagerdto.TransactionList
	require.NoError(t, json.Unmarshal(body, &txs))
	require.Equal(t, 2, txs.Total)
	require.Len(t, txs.Transactions, 1)
	require.Equal(t, "WINNINGS", txs.Transactions[0].Type)
	require.Equal(t, "18.00", txs.Transactions[0].Amount)

	code, body = httpDo(t, app, http.MethodPost, "/api/games/"+id+"/resign", "alice", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "invalid_state", decodeError(t, body).Error)
}

func TestErrorStatusMapping(t *testing.T) {
	app := setupApp(t)
	id := createGame(t, app, "alice", "0")
	code, _ := httpDo(t, app, http.MethodPost, "/api/games/"+id+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, code)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		kind   string
	}{
		{"out of turn", http.MethodPost, "/api/games/" + id + "/move", "bob", wagerdto.MoveRequest{Move: "e5"}, http.StatusConflict, "invalid_state"},
		{"illegal move", http.MethodPost, "/api/games/" + id + "/move", "alice", wagerdto.MoveRequest{Move: "e5"}, http.StatusUnprocessableEntity, "invalid_move"},
		{"outsider read", http.MethodGet, "/api/games/" + id, "carol", nil, http.StatusForbidden, "unauthorized"},
		{"unknown game", http.MethodGet, "/api/games/nope", "alice", nil, http.StatusNotFound, "not_found"},
		{"bad time control", http.MethodPost, "/api/games", "alice", wagerdto.CreateGameRequest{BaseTime: 0}, http.StatusBadRequest, "validation_error"},
		{"poor creator", http.MethodPost, "/api/games", "poor", wagerdto.CreateGameRequest{BaseTime: 60, BetAmount: "5"}, http.StatusPaymentRequired, "insufficient_funds"},
		{"self draw accept", http.MethodPost, "/api/games/" + id + "/draw/accept", "alice", nil, http.StatusConflict, "invalid_state"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := httpDo(t, app, tc.method, tc.path, tc.user, tc.body)
			require.Equal(t, tc.status, code, string(body))
			require.Equal(t, tc.kind, decodeError(t, body).Error)
		})
	}
}

func TestListsAndBoard(t *testing.T) {
	app := setupApp(t)
	first := createGame(t, app, "alice", "0")
	second := createGame(t, app, "alice", "0")
	code, _ := httpDo(t, app, http.MethodPost, "/api/games/"+first+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := httpDo(t, app, http.MethodGet, "/api/games/open", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var open wagerdto.GameList
	require.NoError(t, json.Unmarshal(body, &open))
	require.Equal(t, 1, open.Total)
	require.Equal(t, second, open.Games[0].ID)

	code, body = httpDo(t, app, http.MethodGet, "/api/games/mine?page=1&per_page=500", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var mine wagerdto.GameList
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Equal(t, 2, mine.Total)
	require.Equal(t, store.MaxPageSize, mine.PerPage)

	code, body = httpDo(t, app, http.MethodGet, "/api/games/history", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var hist wagerdto.GameList
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Equal(t, 1, hist.Total)

	req := httptest.NewRequest(http.MethodGet, "/api/games/"+first+"/board.png", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	req.Header.Set("X-User-ID", "carol")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestDepositAndCallback(t *testing.T) {
	app := setupApp(t)
	code, body := httpDo(t, app, http.MethodPost, "/api/wallet/deposit", "alice", wagerdto.DepositRequest{Amount: "250", PhoneNumber: "0712345678"})
	require.Equal(t, http.StatusOK, code, string(body))
	var dep wagerdto.DepositResponse
	require.NoError(t, json.Unmarshal(body, &dep))
	require.Equal(t, "ws_CO_100", dep.CheckoutRequestID)

	code, _ = httpDo(t, app, http.MethodPost, "/api/wallet/deposit", "alice", wagerdto.DepositRequest{Amount: "250", PhoneNumber: "12"})
	require.Equal(t, http.StatusBadRequest, code)

	cb := map[string]any{"Body": map[string]any{"stkCallback": map[string]any{
		"CheckoutRequestID": "ws_CO_100",
		"ResultCode":        0,
		"ResultDesc":        "The service request is processed successfully.",
		"CallbackMetadata": map[string]any{"Item": []map[string]any{
			{"Name": "Amount", "Value": 250},
			{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
		}},
	}}}

	code, _ = httpDo(t, app, http.MethodPost, "/payments/mpesa/callback/wrong", "", cb)
	require.Equal(t, http.StatusForbidden, code)

	for range 2 {
		code, body = httpDo(t, app, http.MethodPost, "/payments/mpesa/callback/cb-secret", "", cb)
		require.Equal(t, http.StatusOK, code, string(body))
	}

	code, body = httpDo(t, app, http.MethodGet, "/api/wallet", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var w wagerdto.Wallet
	require.NoError(t, json.Unmarshal(body, &w))
	require.Equal(t, "350.00", w.Balance)

	unknown := map[string]any{"Body": map[string]any{"stkCallback": map[string]any{"CheckoutRequestID": "nope", "ResultCode": 0}}}
	code, _ = httpDo(t, app, http.MethodPost, "/payments/mpesa/callback/cb-secret", "", unknown)
	require.Equal(t, http.StatusNotFound, code)
}
