package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Pactum platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
	Email  string // Acting party's email, used as payer/signer identity
}

// PactumClient is a pure HTTP client for the Pactum platform API.
type PactumClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPactumClient creates a new client for the Pactum platform.
func NewPactumClient(cfg Config) *PactumClient {
	return &PactumClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *PactumClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreatePayment creates a new escrow payment with the caller as payer.
func (c *PactumClient) CreatePayment(ctx context.Context, payeeEmail, amount, custodyPercent string, custodyDays int, paymentType string, multisig bool) (json.RawMessage, error) {
	body := map[string]any{
		"payerEmail":       c.cfg.Email,
		"payeeEmail":       payeeEmail,
		"amount":           amount,
		"multisigRequired": multisig,
	}
	if custodyPercent != "" {
		body["custodyPercent"] = custodyPercent
	}
	if custodyDays > 0 {
		body["custodyDays"] = custodyDays
	}
	if paymentType != "" {
		body["type"] = paymentType
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments", nil, body)
}

// GetPaymentStatus returns the payment, its custody summary, and event history.
func (c *PactumClient) GetPaymentStatus(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+paymentID+"/status", nil, nil)
}

// ApprovePayment records the caller's approval on a dual-approval payment.
func (c *PactumClient) ApprovePayment(ctx context.Context, paymentID, party string) (json.RawMessage, error) {
	path := "/v1/payments/" + paymentID + "/approve/" + party
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// OpenDispute raises a dispute against a payment, freezing its releases.
func (c *PactumClient) OpenDispute(ctx context.Context, paymentID, reason string) (json.RawMessage, error) {
	body := map[string]string{
		"raisedBy": c.cfg.Email,
		"reason":   reason,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/disputes", nil, body)
}

// GetYield returns the accrued yield summary for a payment's custody.
func (c *PactumClient) GetYield(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payments/"+paymentID+"/yield", nil, nil)
}

// GetReleaseRequest returns a multisig release request with its signatures.
func (c *PactumClient) GetReleaseRequest(ctx context.Context, requestID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/multisig/requests/"+requestID, nil, nil)
}

// SignRelease submits an owner signature on a multisig release request.
func (c *PactumClient) SignRelease(ctx context.Context, requestID, signer, signature string) (json.RawMessage, error) {
	body := map[string]string{
		"signer":    signer,
		"signature": signature,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/multisig/requests/"+requestID+"/signatures", nil, body)
}
