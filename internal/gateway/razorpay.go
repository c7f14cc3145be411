package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Razorpay is a client for the Razorpay REST API.
type Razorpay struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *zap.Logger
}

func NewRazorpay(cfg Config, log *zap.Logger) *Razorpay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	bc := circuitbreaker.DefaultConfig("razorpay")
	// a declined request says nothing about the provider's health
	bc.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, domain.ErrGatewayRejected)
	}

	return &Razorpay{
		cfg:     cfg,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		breaker: circuitbreaker.New[[]byte](bc, log),
		log:     log,
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID        string            `json:"id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes"`
	CreatedAt int64             `json:"created_at"`
}

type paymentResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	OrderID   string `json:"order_id"`
	Method    string `json:"method"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

type refundResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}

	var resp orderResponse
	body := orderRequest{Amount: req.AmountMinor, Currency: req.Currency, Receipt: req.Receipt, Notes: req.Notes}
	if err := r.call(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return nil, err
	}

	return &Intent{
		ID:          resp.ID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Receipt:     resp.Receipt,
		Status:      resp.Status,
		Notes:       resp.Notes,
		CreatedAt:   time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

func (r *Razorpay) FetchCapture(ctx context.Context, paymentID string) (*Capture, error) {
	var resp paymentResponse
	if err := r.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return nil, err
	}

	return &Capture{
		PaymentID:   resp.ID,
		OrderRef:    resp.OrderID,
		Status:      resp.Status,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Method:      resp.Method,
		Email:       resp.Email,
		CreatedAt:   time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

func (r *Razorpay) Refund(ctx context.Context, paymentID string, amountMinor int64) (*Refund, error) {
	var resp refundResponse
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := r.call(ctx, http.MethodPost, path, refundRequest{Amount: amountMinor}, &resp); err != nil {
		return nil, err
	}

	return &Refund{
		ID:          resp.ID,
		PaymentID:   resp.PaymentID,
		Status:      resp.Status,
		AmountMinor: resp.Amount,
		CreatedAt:   time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

// VerifySignature checks hex(HMAC-SHA256(key_secret, order_id|payment_id)).
func (r *Razorpay) VerifySignature(orderRef, paymentID, signature string) error {
	mac := hmac.New(sha256.New, []byte(r.cfg.KeySecret))
	mac.Write([]byte(orderRef + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: payment signature mismatch", domain.ErrValidation)
	}
	return nil
}

func (r *Razorpay) call(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	data, err := r.breaker.Execute(func() ([]byte, error) {
		return r.roundTrip(ctx, method, path, in)
	})
	if circuitbreaker.IsOpen(err) {
		return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	if err != nil {
		r.log.Warn("razorpay call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

func (r *Razorpay) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, describe(data))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGatewayRejected, resp.StatusCode, describe(data))
	}
}

func describe(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Description != "" {
		if e.Error.Code != "" {
			return e.Error.Code + ": " + e.Error.Description
		}
		return e.Error.Description
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}
