// Package uropay is the adapter for the UroPay UPI payment gateway. The
// gateway is optional: with missing or placeholder credentials the client
// reports itself disabled and callers fall back to direct-UPI mode, where no
// automatic verification happens.
package uropay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrDisabled   = errors.New("uropay: gateway disabled")
	ErrBadStatus  = errors.New("uropay: unexpected status code")
	ErrBadPayload = errors.New("uropay: malformed response payload")
)

// placeholderPatterns are substrings that mark an API secret as a template
// value copied from the sample .env rather than a live credential.
var placeholderPatterns = []string{
	"your_uropay",
	"your_actual",
	"replace_with",
	"1234@",
	"placeholder",
	"example",
}

type Credentials struct {
	APIKey    string
	APISecret string
}

// Valid reports whether the credentials look usable for live traffic. A
// placeholder secret must never be sent to the gateway.
func (c Credentials) Valid() bool {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return false
	}
	return !IsPlaceholderSecret(c.APISecret)
}

func IsPlaceholderSecret(secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return true
	}
	lower := strings.ToLower(secret)
	for _, p := range placeholderPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

type Config struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
}

type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		creds:   cfg.Credentials,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether live gateway calls can be made.
func (c *Client) Enabled() bool {
	return c != nil && c.creds.Valid()
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// LinkNotes is the correlation metadata embedded at intent-creation time and
// echoed back in webhooks, keyed the way the gateway expects.
type LinkNotes struct {
	EventID    string `json:"eventId"`
	EventTitle string `json:"eventTitle"`
	Seats      string `json:"seats"`
	UserID     string `json:"userId"`
}

type CreateLinkRequest struct {
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Customer    Customer  `json:"customer"`
	Notes       LinkNotes `json:"notes"`
	CallbackURL string    `json:"callback_url"`
	ReturnURL   string    `json:"return_url"`
}

// PaymentLink is the normalized view of a gateway payment link. The gateway
// is loose about field names, so the raw payload is decoded and normalized in
// one place.
type PaymentLink struct {
	ID            string
	URL           string
	QRCode        string
	Status        string
	PaymentID     string
	TransactionID string
	Amount        float64
	Paid          bool
}

// Paid-equivalent statuses the gateway has been observed to return.
var successStatuses = map[string]struct{}{
	"paid":      {},
	"success":   {},
	"captured":  {},
	"completed": {},
	"succeeded": {},
}

// IsPaid reports whether the link reached a terminal success state.
func (l *PaymentLink) IsPaid() bool {
	if l == nil {
		return false
	}
	if l.Paid {
		return true
	}
	_, ok := successStatuses[strings.ToLower(l.Status)]
	return ok
}

// Reference returns the best available payment reference for the link, in
// decreasing order of specificity.
func (l *PaymentLink) Reference() string {
	switch {
	case l.TransactionID != "":
		return l.TransactionID
	case l.PaymentID != "":
		return l.PaymentID
	default:
		return l.ID
	}
}

// CreatePaymentLink creates a payment link for the given amount.
func (c *Client) CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*PaymentLink, error) {
	const op = "uropay.CreatePaymentLink"

	if !c.Enabled() {
		return nil, fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payload, err := c.do(ctx, http.MethodPost, "/api/v1/payment-links", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link := decodeLink(payload)
	if link.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrBadPayload)
	}

	return link, nil
}

// GetPaymentLink fetches the live status of a payment link.
func (c *Client) GetPaymentLink(ctx context.Context, linkID string) (*PaymentLink, error) {
	const op = "uropay.GetPaymentLink"

	if !c.Enabled() {
		return nil, fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	payload, err := c.do(ctx, http.MethodGet, "/api/v1/payment-links/"+linkID, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link := decodeLink(payload)
	if link.ID == "" {
		link.ID = linkID
	}

	return link, nil
}

// Refund asks the gateway to refund a captured payment. Best-effort: callers
// log failures and move on.
func (c *Client) Refund(ctx context.Context, paymentRef string, amount float64) error {
	const op = "uropay.Refund"

	if !c.Enabled() {
		return fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	body, err := json.Marshal(map[string]any{
		"payment_reference": paymentRef,
		"amount":            amount,
		"reason":            "booking cancelled",
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/api/v1/refunds", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.creds.APIKey)
	req.Header.Set("X-API-Key", c.creds.APIKey)
	req.Header.Set("X-API-Secret", c.creds.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	return payload, nil
}

// decodeLink normalizes the gateway's inconsistent payload shapes: fields may
// live at the top level or under "data", under several alternative names.
func decodeLink(payload map[string]any) *PaymentLink {
	l := &PaymentLink{}

	sources := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		sources = append(sources, data)
	}

	for _, src := range sources {
		pickStr(&l.ID, src, "id", "payment_link_id")
		pickStr(&l.URL, src, "short_url", "url")
		pickStr(&l.QRCode, src, "qr_code")
		pickStr(&l.Status, src, "status")
		pickStr(&l.PaymentID, src, "payment_id")
		pickStr(&l.TransactionID, src, "transaction_id")
		if l.Amount == 0 {
			if f, ok := src["amount"].(float64); ok {
				l.Amount = f
			}
		}
		if b, ok := src["paid"].(bool); ok && b {
			l.Paid = true
		}
	}

	return l
}

func pickStr(dst *string, src map[string]any, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if s, ok := src[k].(string); ok && s != "" {
			*dst = s
			return
		}
	}
}
