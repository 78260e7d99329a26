// Package paystack implements the payment.Gateway interface against the
// Paystack REST API and verifies webhook signatures.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/payment"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Paystack-Signature"

const defaultBaseURL = "https://api.paystack.co"

var _ payment.Gateway = (*Client)(nil)

// Config holds the gateway credentials and transport knobs.
type Config struct {
	// SecretKey is the Paystack secret key (sk_test_... / sk_live_...). It
	// authenticates API calls and keys the webhook signature HMAC.
	SecretKey string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// Timeout bounds every gateway call. A timeout does not imply payment
	// failure; callers retry verification later.
	Timeout time.Duration
}

// Client is an HTTP client for the Paystack transaction API.
type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

// NewClient builds a Client from cfg, applying defaults for the base URL
// (production API) and timeout (15s).
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Initialize creates a charge and returns the hosted authorization URL.
// Amounts are converted to the currency subunit (kobo) as the API requires.
func (c *Client) Initialize(ctx context.Context, req payment.InitRequest) (*payment.InitResult, error) {
	body, err := json.Marshal(initializeRequest{
		Email:       req.Email,
		Amount:      toSubunit(req.Amount),
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal initialize request")
	}

	var resp initializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, errors.Errorf("gateway rejected initialization: %s", resp.Message)
	}

	return &payment.InitResult{
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// Verify fetches the authoritative transaction status. Gateway statuses map
// to the service's monotonic set: success and failed are terminal, anything
// else (pending, ongoing, abandoned) stays initialized.
func (c *Client) Verify(ctx context.Context, reference string) (*payment.VerifyResult, error) {
	var resp verifyResponse
	raw, err := c.doRaw(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode verify response")
	}
	if !resp.Status {
		return nil, errors.Errorf("gateway rejected verification: %s", resp.Message)
	}

	return &payment.VerifyResult{
		Reference: reference,
		Status:    mapGatewayStatus(resp.Data.Status),
		Amount:    fromSubunit(resp.Data.Amount),
		Raw:       raw,
	}, nil
}

// VerifySignature checks the webhook body's HMAC-SHA512 hex signature in
// constant time. The same secret key that authenticates API calls keys the
// signature.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode gateway response")
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(payment.ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(payment.ErrGatewayUnavailable, "read response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("gateway returned %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}

func mapGatewayStatus(s string) payment.Status {
	switch s {
	case "success":
		return payment.StatusSuccess
	case "failed":
		return payment.StatusFailed
	default:
		return payment.StatusInitialized
	}
}

// toSubunit converts a major-unit decimal amount to integer subunits (kobo).
func toSubunit(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromSubunit(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}
