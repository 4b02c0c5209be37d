package wagerdto

import "time"

type Wallet struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

type Transaction struct {
	ID            int64     `json:"id"`
	UUID          string    `json:"uuid"`
	Amount        string    `json:"amount"`
	Type          string    `json:"transaction_type"`
	GameID        string    `json:"game_id,omitempty"`
	BalanceAfter  string    `json:"balance_after"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	ExternalRef   string    `json:"external_ref,omitempty"`
	Receipt       string    `json:"receipt,omitempty"`
	Note          string    `json:"note,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type TransactionList struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Total        int           `json:"total"`
}

type DepositRequest struct {
	Amount      string `json:"amount"`
	PhoneNumber string `json:"phone_number"`
}

type DepositResponse struct {
	Message           string `json:"message"`
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}
