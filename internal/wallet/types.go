package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxType classifies a ledger entry.
type TxType uint8

const (
	TxDeposit TxType = iota + 1
	TxWithdrawal
	TxBet
	TxWinnings
	TxRefund
	TxPlatformFee
)

func (t TxType) String() string {
	switch t {
	case TxDeposit:
		return "DEPOSIT"
	case TxWithdrawal:
		return "WITHDRAWAL"
	case TxBet:
		return "BET"
	case TxWinnings:
		return "WINNINGS"
	case TxRefund:
		return "REFUND"
	case TxPlatformFee:
		return "PLATFORM_FEE"
	default:
		return fmt.Sprintf("TxType(%d)", uint8(t))
	}
}

func ParseTxType(raw string) (TxType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEPOSIT":
		return TxDeposit, nil
	case "WITHDRAWAL":
		return TxWithdrawal, nil
	case "BET":
		return TxBet, nil
	case "WINNINGS":
		return TxWinnings, nil
	case "REFUND":
		return TxRefund, nil
	case "PLATFORM_FEE":
		return TxPlatformFee, nil
	}
	return 0, fmt.Errorf("unknown transaction type %q", raw)
}

// TxStatus tracks the settlement state of an entry. Game entries are born SUCCESS;
// deposits start PENDING until the payment collaborator reports back.
type TxStatus uint8

const (
	StatusPending TxStatus = iota + 1
	StatusSuccess
	StatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("TxStatus(%d)", uint8(s))
	}
}

func ParseTxStatus(raw string) (TxStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, nil
	case "SUCCESS":
		return StatusSuccess, nil
	case "FAILED":
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("unknown transaction status %q", raw)
}

const PaymentMPesa = "mpesa"

// Entry is one append-only signed balance change.
type Entry struct {
	ID            int64
	UUID          string
	UserID        string
	Amount        decimal.Decimal
	Type          TxType
	GameID        string
	BalanceAfter  decimal.Decimal
	Status        TxStatus
	PaymentMethod string
	ExternalRef   string
	Receipt       string
	Note          string
	CreatedAt     time.Time
}
