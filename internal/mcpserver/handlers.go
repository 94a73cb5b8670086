package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PactumClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PactumClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreatePayment creates an escrow payment with the caller as payer.
func (h *Handlers) HandleCreatePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payee := req.GetString("payee_email", "")
	if payee == "" {
		return mcp.NewToolResultError("payee_email is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	custodyPercent := req.GetString("custody_percent", "")
	custodyDays := req.GetInt("custody_days", 0)
	paymentType := req.GetString("type", "")
	multisig := req.GetBool("multisig", false)

	raw, err := h.client.CreatePayment(ctx, payee, amount, custodyPercent, custodyDays, paymentType, multisig)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment creation failed: %v", err)), nil
	}

	p, err := extractPayment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment created: %s\n", getString(p, "id"))
	fmt.Fprintf(&sb, "Amount: %s MXN to %s\n", getString(p, "amount"), getString(p, "payeeEmail"))
	fmt.Fprintf(&sb, "Status: %s\n", getString(p, "status"))
	if clabe := getString(p, "depositClabe"); clabe != "" {
		fmt.Fprintf(&sb, "\nDeposit %s MXN to CLABE %s to fund it.\n", getString(p, "amount"), clabe)
	}
	sb.WriteString("Use get_payment_status with the payment id to follow its progress.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetPaymentStatus returns a payment's state, custody, and history.
func (h *Handlers) HandleGetPaymentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paymentID := req.GetString("payment_id", "")
	if paymentID == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch payment: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleApprovePayment records an approval on a dual-approval payment.
func (h *Handlers) HandleApprovePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paymentID := req.GetString("payment_id", "")
	if paymentID == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}
	party := req.GetString("party", "")
	if party != "payer" && party != "payee" {
		return mcp.NewToolResultError("party must be 'payer' or 'payee'"), nil
	}

	raw, err := h.client.ApprovePayment(ctx, paymentID, party)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Approval failed: %v", err)), nil
	}

	p, err := extractPayment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Approved as %s.\nPayment %s is now %s.",
		party, paymentID, getString(p, "status"))), nil
}

// HandleOpenDispute raises a dispute, freezing the payment's releases.
func (h *Handlers) HandleOpenDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paymentID := req.GetString("payment_id", "")
	if paymentID == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.OpenDispute(ctx, paymentID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	disputeID := ""
	var resp map[string]any
	if json.Unmarshal(raw, &resp) == nil {
		if d, ok := resp["dispute"].(map[string]any); ok {
			disputeID = getString(d, "id")
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute opened on payment %s.\n"+
			"Dispute ID: %s\n"+
			"Reason: %s\n\n"+
			"All custody releases are frozen until an operator resolves it.",
		paymentID, disputeID, reason)), nil
}

// HandleGetYield returns the yield accrued on a payment's custody.
func (h *Handlers) HandleGetYield(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paymentID := req.GetString("payment_id", "")
	if paymentID == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.GetYield(ctx, paymentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch yield: %v", err)), nil
	}

	text, err := formatYield(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse yield: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetReleaseRequest returns a multisig release request and its signatures.
func (h *Handlers) HandleGetReleaseRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := req.GetString("request_id", "")
	if requestID == "" {
		return mcp.NewToolResultError("request_id is required"), nil
	}

	raw, err := h.client.GetReleaseRequest(ctx, requestID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch release request: %v", err)), nil
	}

	text, err := formatReleaseRequest(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse release request: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSignRelease submits an owner signature on a release request.
func (h *Handlers) HandleSignRelease(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := req.GetString("request_id", "")
	if requestID == "" {
		return mcp.NewToolResultError("request_id is required"), nil
	}
	signer := req.GetString("signer", "")
	if signer == "" {
		return mcp.NewToolResultError("signer is required"), nil
	}
	signature := req.GetString("signature", "")
	if signature == "" {
		return mcp.NewToolResultError("signature is required"), nil
	}

	raw, err := h.client.SignRelease(ctx, requestID, signer, signature)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Signing failed: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Signature recorded on %s.\n", requestID)
	count, _ := getFloat(resp, "signatures")
	threshold, _ := getFloat(resp, "threshold")
	fmt.Fprintf(&sb, "Signatures collected: %.0f of %.0f required\n", count, threshold)
	if executed, ok := resp["executed"].(bool); ok && executed {
		sb.WriteString("Threshold met: the release has been executed on-chain.\n")
		if r, ok := resp["request"].(map[string]any); ok {
			if tx := getString(r, "txHash"); tx != "" {
				fmt.Fprintf(&sb, "Transaction: %s\n", tx)
			}
		}
	} else {
		sb.WriteString("Waiting for more signatures before execution.\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func extractPayment(raw json.RawMessage) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if p, ok := resp["payment"].(map[string]any); ok {
		return p, nil
	}
	if _, ok := resp["id"]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no payment in response: %s", string(raw))
}

func formatStatus(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	p, ok := resp["payment"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("no payment in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment %s\n", getString(p, "id"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(p, "status"))
	fmt.Fprintf(&sb, "  Amount: %s %s\n", getString(p, "amount"), getString(p, "currency"))
	fmt.Fprintf(&sb, "  Payer: %s | Payee: %s\n", getString(p, "payerEmail"), getString(p, "payeeEmail"))

	if es, ok := resp["escrow"].(map[string]any); ok {
		sb.WriteString("\nCustody:\n")
		fmt.Fprintf(&sb, "  Status: %s\n", getString(es, "status"))
		fmt.Fprintf(&sb, "  Locked: %s MXN\n", getString(es, "custodyAmount"))
		if v := getString(es, "custodyEnd"); v != "" {
			fmt.Fprintf(&sb, "  Releases: %s\n", v)
		}
		if v := getString(es, "onchainTxHash"); v != "" {
			fmt.Fprintf(&sb, "  On-chain: %s\n", v)
		}
		if v := getString(es, "disputeStatus"); v != "" {
			fmt.Fprintf(&sb, "  Dispute: %s\n", v)
		}
	}

	if events, ok := resp["events"].([]any); ok && len(events) > 0 {
		sb.WriteString("\nHistory:\n")
		for _, ev := range events {
			m, ok := ev.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  %s - %s\n", getString(m, "createdAt"), getString(m, "description", "type"))
		}
	}

	return sb.String(), nil
}

func formatYield(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	// The summary may be nested under "yield" or at the top level.
	summary := resp
	if y, ok := resp["yield"].(map[string]any); ok {
		summary = y
	}
	activation, _ := summary["activation"].(map[string]any)
	if activation == nil {
		return "No yield activation for this payment.", nil
	}

	var sb strings.Builder
	sb.WriteString("Yield Summary:\n")
	fmt.Fprintf(&sb, "  Principal: %s MXN\n", getString(activation, "principal"))
	fmt.Fprintf(&sb, "  Annual rate: %s%%\n", getString(activation, "annualRate", "rate"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(activation, "status"))

	if earnings, ok := summary["earnings"].([]any); ok {
		fmt.Fprintf(&sb, "  Accrual days: %d\n", len(earnings))
	}
	if payout, ok := summary["payout"].(map[string]any); ok {
		fmt.Fprintf(&sb, "  Paid out: %s MXN\n", getString(payout, "amount", "totalEarned"))
	}

	return sb.String(), nil
}

func formatReleaseRequest(raw json.RawMessage) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	r, ok := resp["request"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("no request in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Release request %s\n", getString(r, "id"))
	fmt.Fprintf(&sb, "  Payment: %s\n", getString(r, "paymentId"))
	fmt.Fprintf(&sb, "  Amount: %s to %s\n", getString(r, "amount"), getString(r, "to"))
	fmt.Fprintf(&sb, "  Nonce: %s\n", getString(r, "nonce"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(r, "status"))
	if tx := getString(r, "txHash"); tx != "" {
		fmt.Fprintf(&sb, "  Transaction: %s\n", tx)
	}

	if sigs, ok := resp["signatures"].([]any); ok {
		fmt.Fprintf(&sb, "\nSignatures (%d):\n", len(sigs))
		for _, s := range sigs {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  %s at %s\n", getString(m, "signer"), getString(m, "createdAt"))
		}
	}

	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
