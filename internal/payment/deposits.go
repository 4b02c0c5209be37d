package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/metrics"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Callback is the STK push result posted by the gateway.
type Callback struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

func (s StkCallback) item(name string) (json.RawMessage, bool) {
	for _, it := range s.CallbackMetadata.Item {
		if it.Name == name && len(it.Value) > 0 {
			return it.Value, true
		}
	}
	return nil, false
}

// Amount returns the confirmed amount, if reported.
func (s StkCallback) Amount() (decimal.Decimal, bool) {
	raw, ok := s.item("Amount")
	if !ok {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Receipt returns the MpesaReceiptNumber item.
func (s StkCallback) Receipt() string {
	raw, ok := s.item("MpesaReceiptNumber")
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.Trim(string(raw), `"`)
	}
	return v
}

// Deposits records pending deposits and applies gateway results exactly once.
type Deposits struct {
	store   store.Store
	gateway Gateway
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewDeposits(s store.Store, gw Gateway, m *metrics.Metrics) *Deposits {
	return &Deposits{store: s, gateway: gw, metrics: m, now: time.Now}
}

// ParseAmount accepts a positive whole amount; the gateway bills integer units only.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, game.Validation("Invalid amount")
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, game.Validation("Amount must be a whole number")
	}
	return d, nil
}

// Initiate sends a push request and stores a PENDING deposit keyed by its checkout id.
func (d *Deposits) Initiate(ctx context.Context, userID, amountRaw, phoneRaw string) (*wallet.Entry, *Ack, error) {
	if d.gateway == nil {
		return nil, nil, game.InvalidState("Deposits are not enabled")
	}
	amount, err := ParseAmount(amountRaw)
	if err != nil {
		return nil, nil, err
	}
	phone, err := NormalizePhone(phoneRaw)
	if err != nil {
		return nil, nil, err
	}

	ack, err := d.gateway.InitiateDeposit(ctx, amount, phone, "Deposit-"+userID)
	if err != nil {
		d.metrics.Deposit("rejected")
		obslog.L().Warn("deposit_push_failed", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, fmt.Errorf("initiate deposit: %w", err)
	}

	e := &wallet.Entry{
		UUID:          uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Type:          wallet.TxDeposit,
		Status:        wallet.StatusPending,
		PaymentMethod: wallet.PaymentMPesa,
		ExternalRef:   ack.CheckoutRequestID,
		Note:          "MPesa STK Push initiated: Wallet Deposit for Game",
		CreatedAt:     d.now().UTC(),
	}
	err = store.InTx(ctx, d.store, func(tx store.Tx) error {
		balance, err := tx.Adjust(ctx, userID, decimal.Zero)
		if err != nil {
			return err
		}
		e.BalanceAfter = balance
		return tx.Append(ctx, e)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("record deposit: %w", err)
	}
	d.metrics.Deposit("initiated")
	obslog.L().Info("deposit_initiated",
		zap.String("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("checkout_request_id", ack.CheckoutRequestID))
	return e, ack, nil
}

// HandleCallback settles the PENDING deposit named by the callback. Repeated callbacks for a
// settled deposit are acknowledged without effect; applied reports whether this call changed it.
func (d *Deposits) HandleCallback(ctx context.Context, cb StkCallback) (entry *wallet.Entry, applied bool, err error) {
	ref := strings.TrimSpace(cb.CheckoutRequestID)
	if ref == "" {
		return nil, false, game.Validation("CheckoutRequestID is required")
	}
	err = store.InTx(ctx, d.store, func(tx store.Tx) error {
		e, err := tx.EntryByRef(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return game.NotFound("Transaction not found")
		}
		if err != nil {
			return err
		}
		entry = e
		if e.Type != wallet.TxDeposit || e.Status != wallet.StatusPending {
			return nil
		}

		if cb.ResultCode == 0 {
			amount, ok := cb.Amount()
			if !ok || !amount.IsPositive() {
				amount = e.Amount
			}
			balance, err := tx.Adjust(ctx, e.UserID, amount)
			if err != nil {
				return err
			}
			e.Status = wallet.StatusSuccess
			e.Amount = amount
			e.BalanceAfter = balance
			e.Receipt = cb.Receipt()
			e.Note = "MPesa deposit successful: " + cb.ResultDesc
		} else {
			e.Status = wallet.StatusFailed
			e.Note = "MPesa deposit failed: " + cb.ResultDesc
		}
		applied = true
		return tx.UpdateEntry(ctx, e)
	})
	if err != nil {
		return nil, false, err
	}

	if !applied {
		obslog.L().Info("deposit_callback_repeat", zap.String("checkout_request_id", ref), zap.String("status", entry.Status.String()))
		return entry, false, nil
	}
	status := strings.ToLower(entry.Status.String())
	d.metrics.Deposit(status)
	obslog.L().Info("deposit_"+status,
		zap.String("user_id", entry.UserID),
		zap.String("checkout_request_id", ref),
		zap.String("amount", entry.Amount.StringFixed(2)),
		zap.Int("result_code", cb.ResultCode))
	return entry, true, nil
}
