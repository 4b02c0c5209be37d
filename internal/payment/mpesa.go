// Package payment talks to the M-Pesa (Daraja) STK push API and applies its callbacks
// to the wallet ledger.
package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-wager/internal/game"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

// Ack is the gateway's synchronous answer to a push request.
type Ack struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Gateway starts a customer-approved deposit. The result arrives later via callback.
type Gateway interface {
	InitiateDeposit(ctx context.Context, amount decimal.Decimal, phone, reference string) (*Ack, error)
}

// ErrRejected is returned when the gateway answers with a non-zero ResponseCode.
var ErrRejected = errors.New("payment: push request rejected")

var eat = time.FixedZone("EAT", 3*60*60)

type ClientOptions struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
	Retry          int
}

// Client is a fasthttp Daraja client with a cached OAuth token.
type Client struct {
	opts ClientOptions
	http *fasthttp.Client
	now  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewClient(o ClientOptions) *Client {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retry <= 0 {
		o.Retry = 2
	}
	return &Client{
		opts: o,
		http: &fasthttp.Client{ReadTimeout: o.Timeout, WriteTimeout: o.Timeout, MaxConnsPerHost: 32},
		now:  time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.opts.ConsumerKey + ":" + c.opts.ConsumerSecret))
	var out tokenResponse
	err := c.do(ctx, fasthttp.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", "Basic "+basic, nil, &out, true)
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("mpesa token: empty access_token")
	}
	ttl := time.Hour
	if secs, err := strconv.Atoi(strings.TrimSpace(out.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = out.AccessToken
	c.expires = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

type stkRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

func (c *Client) InitiateDeposit(ctx context.Context, amount decimal.Decimal, phone, reference string) (*Ack, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := c.now().In(eat).Format("20060102150405")
	req := stkRequest{
		BusinessShortCode: c.opts.ShortCode,
		Password:          Password(c.opts.ShortCode, c.opts.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.IntPart(),
		PartyA:            phone,
		PartyB:            c.opts.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.opts.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Wallet Deposit for Game",
	}
	var ack Ack
	// push requests are not idempotent on the gateway side
	if err := c.do(ctx, fasthttp.MethodPost, "/mpesa/stkpush/v1/processrequest", "Bearer "+token, req, &ack, false); err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}
	if ack.ResponseCode != "0" {
		return &ack, fmt.Errorf("%w: %s", ErrRejected, ack.ResponseDescription)
	}
	return &ack, nil
}

func (c *Client) do(ctx context.Context, method, path, authz string, in, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.opts.BaseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", authz)
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.opts.Retry
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, time.Duration(attempt-1)*200*time.Millisecond); err != nil {
				return lastErr
			}
		}
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("mpesa api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if status < 500 {
				return lastErr
			}
			continue
		}
		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.opts.Timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// NormalizePhone reduces a Kenyan mobile number to the 2547XXXXXXXX / 2541XXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if strings.HasPrefix(phone, "0") {
		phone = "254" + phone[1:]
	}
	if len(phone) != 12 || !(strings.HasPrefix(phone, "2547") || strings.HasPrefix(phone, "2541")) {
		return "", game.Validation("Invalid phone number format. Use +254 or 07 followed by 9 digits.")
	}
	return phone, nil
}
