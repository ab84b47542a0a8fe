// Package gateway is the HTTP client for the payment processor. It
// implements domain.PaymentGateway and is injected into the engines at
// construction, so tests substitute a fake.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prepspace/claimd/internal/domain"
)

// Config holds gateway connection settings and the published pricing
// used for break-even fee estimates.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Published processing pricing: percentage in basis points plus a
	// fixed component, e.g. 290 + 30 for 2.9% + $0.30.
	FeePercentBps int64
	FeeFixedCents int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://api.paygate.example.com",
		Timeout:       30 * time.Second,
		FeePercentBps: 290,
		FeeFixedCents: 30,
	}
}

// Client talks to the payment gateway over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a gateway client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// EstimateFeeCents returns the processing-fee estimate for a charge of
// the given amount: percentage (rounded half up) plus the fixed
// component. Used to size the break-even platform fee.
func (c *Client) EstimateFeeCents(amountCents int64) int64 {
	pct := (amountCents*c.cfg.FeePercentBps + 5000) / 10000
	return pct + c.cfg.FeeFixedCents
}

// chargeResponse is the gateway's charge representation.
type chargeResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	FeeCents int64  `json:"fee_cents"`
	Error    struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCharge issues an off-session charge. The Idempotency-Key header
// lets the gateway deduplicate retried requests.
func (c *Client) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", req.Currency)
	form.Set("customer", req.CustomerRef)
	form.Set("payment_method", req.PaymentMethodRef)
	form.Set("off_session", "true")
	if req.DestinationAccount != "" {
		form.Set("destination", req.DestinationAccount)
		form.Set("application_fee_amount", strconv.FormatInt(req.ApplicationFeeCents, 10))
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp chargeResponse
	if err := c.post(ctx, "/v1/charges", form, req.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("gateway: %s", resp.Error.Message)
	}
	return &domain.ChargeResult{ID: resp.ID, Status: resp.Status}, nil
}

// refundResponse is the gateway's refund representation.
type refundResponse struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Error       struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateRefund reverses part or all of a charge.
func (c *Client) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	form := url.Values{}
	form.Set("charge", req.ChargeRef)
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("reason", req.Reason)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp refundResponse
	if err := c.post(ctx, "/v1/refunds", form, "", &resp); err != nil {
		return nil, err
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("gateway: %s", resp.Error.Message)
	}
	return &domain.RefundResult{ID: resp.ID, AmountCents: resp.AmountCents, Status: resp.Status}, nil
}

// ActualFeeCents fetches the gateway-reported processing fee for a
// settled charge. Used to reconcile the ledger after capture.
func (c *Client) ActualFeeCents(ctx context.Context, chargeRef string) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/charges/"+url.PathEscape(chargeRef), nil)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer httpResp.Body.Close()

	var resp chargeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gateway: charge lookup returned %d", httpResp.StatusCode)
	}
	return resp.FeeCents, nil
}

// post sends a form-encoded request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("gateway: decode response (%d): %w", httpResp.StatusCode, err)
	}
	return nil
}
