package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
)

func TestNormalizePhone(t *testing.T) {
	ok := map[string]string{
		"0712345678":      "254712345678",
		"+254 712 345678": "254712345678",
		"0112345678":      "254112345678",
		"254112345678":    "254112345678",
	}
	for in, want := range ok {
		got, err := NormalizePhone(in)
		if err != nil || got != want {
			t.Fatalf("NormalizePhone(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "0812345678", "07123", "2547123456789", "255712345678"} {
		if _, err := NormalizePhone(in); game.KindOf(err) != game.KindValidation {
			t.Fatalf("NormalizePhone(%q) accepted: %v", in, err)
		}
	}
}

func TestParseAmount(t *testing.T) {
	if d, err := ParseAmount("150"); err != nil || !d.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("ParseAmount = %s, %v", d, err)
	}
	for _, in := range []string{"0", "-5", "abc", "10.5"} {
		if _, err := ParseAmount(in); game.KindOf(err) != game.KindValidation {
			t.Fatalf("ParseAmount(%q) accepted", in)
		}
	}
}

func TestClient_TokenCachedAndPushSent(t *testing.T) {
	var tokenCalls atomic.Int32
	var pushed stkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			tokenCalls.Add(1)
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
			if r.Header.Get("Authorization") != want {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&pushed)
			_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "pk",
		CallbackURL:    "https://example.test/payments/mpesa/callback",
	})
	for range 2 {
		ack, err := c.InitiateDeposit(context.Background(), decimal.NewFromInt(100), "254712345678", "Deposit-alice")
		if err != nil {
			t.Fatalf("InitiateDeposit: %v", err)
		}
		if ack.CheckoutRequestID != "ws_CO_1" {
			t.Fatalf("ack = %+v", ack)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token fetched %d times", tokenCalls.Load())
	}
	if pushed.Amount != 100 || pushed.PartyA != "254712345678" || pushed.PartyB != "174379" {
		t.Fatalf("push payload %+v", pushed)
	}
	if pushed.Password != Password("174379", "pk", pushed.Timestamp) || len(pushed.Timestamp) != 14 {
		t.Fatalf("password/timestamp mismatch: %+v", pushed)
	}
}

func TestClient_RejectedPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth") {
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ResponseCode":"1","ResponseDescription":"Invalid PhoneNumber"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL})
	if _, err := c.InitiateDeposit(context.Background(), decimal.NewFromInt(10), "254712345678", "r"); !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
}

type fakeGateway struct {
	calls int
	ack   Ack
	err   error
}

func (f *fakeGateway) InitiateDeposit(_ context.Context, _ decimal.Decimal, _, _ string) (*Ack, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	a := f.ack
	return &a, nil
}

func callback(ref string, code int, amount string) StkCallback {
	var cb Callback
	raw := `{"Body":{"stkCallback":{"CheckoutRequestID":"` + ref + `","ResultCode":` + strconv.Itoa(code) + `,"ResultDesc":"done",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":` + amount + `},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		panic(err)
	}
	return cb.Body.StkCallback
}

func TestDeposits_CallbackAppliedOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	st.Seed("alice", decimal.NewFromInt(5))
	gw := &fakeGateway{ack: Ack{CheckoutRequestID: "ws_CO_42", ResponseCode: "0"}}
	d := NewDeposits(st, gw, nil)

	e, _, err := d.Initiate(ctx, "alice", "100", "0712345678")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if e.Status != wallet.StatusPending || e.ExternalRef != "ws_CO_42" {
		t.Fatalf("pending entry %+v", e)
	}
	if b, _ := st.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("pending deposit credited early: %s", b)
	}

	cb := callback("ws_CO_42", 0, "100")
	got, applied, err := d.HandleCallback(ctx, cb)
	if err != nil || !applied {
		t.Fatalf("first callback = %v, %v", applied, err)
	}
	if got.Status != wallet.StatusSuccess || got.Receipt != "NLJ7RT61SV" || !got.BalanceAfter.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("settled entry %+v", got)
	}

	if _, applied, err := d.HandleCallback(ctx, cb); err != nil || applied {
		t.Fatalf("repeat callback = %v, %v", applied, err)
	}
	if b, _ := st.Balance(ctx, "alice"); !b.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("balance = %s, want 105", b)
	}
}

func TestDeposits_FailedAndUnknown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gw := &fakeGateway{ack: Ack{CheckoutRequestID: "ws_CO_7", ResponseCode: "0"}}
	d := NewDeposits(st, gw, nil)

	if _, _, err := d.Initiate(ctx, "bob", "50", "254112345678"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	got, applied, err := d.HandleCallback(ctx, callback("ws_CO_7", 1, "50"))
	if err != nil || !applied || got.Status != wallet.StatusFailed {
		t.Fatalf("failed callback = %+v, %v, %v", got, applied, err)
	}
	if b, _ := st.Balance(ctx, "bob"); !b.IsZero() {
		t.Fatalf("failed deposit credited: %s", b)
	}
	// success arriving after failure must not resurrect it
	if _, applied, _ := d.HandleCallback(ctx, callback("ws_CO_7", 0, "50")); applied {
		t.Fatalf("late success applied to failed deposit")
	}

	_, _, err = d.HandleCallback(ctx, callback("nope", 0, "1"))
	if game.KindOf(err) != game.KindNotFound {
		t.Fatalf("unknown checkout: %v", err)
	}
}

func TestDeposits_ValidationBeforeGateway(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDeposits(store.NewMemory(), gw, nil)
	_, _, err := d.Initiate(context.Background(), "alice", "100", "12345")
	if game.KindOf(err) != game.KindValidation || gw.calls != 0 {
		t.Fatalf("err=%v calls=%d", err, gw.calls)
	}
}
