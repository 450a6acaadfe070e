package payments

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
	"time"

	"go.uber.org/zap"
)

// DefaultRazorpayBaseURL is the Razorpay REST API root.
const DefaultRazorpayBaseURL = "https://api.razorpay.com"

// ErrGatewayDisabled is returned when no Razorpay credentials are configured.
var ErrGatewayDisabled = errors.New("payment gateway not configured")

// OrderRequest is the body for POST /v1/orders. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the subset of the Razorpay order resource the checkout flow uses.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Razorpay is a minimal Razorpay client for orders and signature checks.
type Razorpay struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	logger        *zap.Logger
}

// NewRazorpay creates a Razorpay client. An empty baseURL uses DefaultRazorpayBaseURL.
func NewRazorpay(keyID, keySecret, webhookSecret, baseURL string, logger *zap.Logger) *Razorpay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultRazorpayBaseURL
	}
	return &Razorpay{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
	}
}

// Enabled reports whether API credentials are configured.
func (r *Razorpay) Enabled() bool {
	return r != nil && r.keyID != "" && r.keySecret != ""
}

// KeyID is the public key the browser checkout needs.
func (r *Razorpay) KeyID() string { return r.keyID }

// CreateOrder creates a gateway order.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if !r.Enabled() {
		return nil, ErrGatewayDisabled
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Error("razorpay order rejected", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, fmt.Errorf("create order: status %d", resp.StatusCode)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// VerifyPaymentSignature checks the checkout signature, HMAC-SHA256 of "order_id|payment_id".
func (r *Razorpay) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return verifyHMAC(r.keySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw webhook body.
func (r *Razorpay) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(r.webhookSecret, body, signature)
}

// WebhookEnabled reports whether webhook verification is configured.
func (r *Razorpay) WebhookEnabled() bool {
	return r != nil && r.webhookSecret != ""
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
