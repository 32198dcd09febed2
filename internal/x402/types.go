// Package x402 implements the payment-required protocol gate: x402 wire
// types, the facilitator client for /verify and /settle, payment
// requirements construction, and the per-request verify-then-settle state
// machine that fronts the chat endpoint.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Version is the x402 protocol version spoken by this gateway.
const Version = 1

// Scheme is the only payment scheme accepted: a signed exact-amount
// transfer authorization.
const Scheme = "exact"

// PaymentHeader is the request header carrying the base64-encoded payment
// payload. Header lookup is case-insensitive per RFC 7230.
const PaymentHeader = "X-PAYMENT"

// ResponseHeader carries the base64-encoded settlement receipt on paid
// responses.
const ResponseHeader = "X-PAYMENT-RESPONSE"

// PaymentRequirements describes what a caller must pay to access a
// resource. Built fresh per request from live configuration; never
// persisted.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"` // smallest-unit decimal string
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
	Extra             Extra  `json:"extra"`
}

// Extra carries scheme-specific requirement fields.
type Extra struct {
	FeePayer string `json:"feePayer,omitempty"`
}

// PaymentPayload is a signed transfer authorization produced by the
// caller's wallet. Immutable once received.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload is the scheme="exact" inner payload.
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization binds the transfer to a single-use nonce and a validity
// window.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// VerificationResult is the facilitator's answer to /verify. Ephemeral, one
// per request.
type VerificationResult struct {
	IsValid       bool   `json:"isValid"`
	Error         string `json:"error,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResult is the facilitator's answer to /settle. Transaction
// becomes the durable payment receipt id once persisted.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Error       string `json:"error,omitempty"`
	NetworkID   string `json:"networkId,omitempty"`
}

// PaymentRequired is the JSON body of every 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// Receipt is the settlement acknowledgment encoded into ResponseHeader.
type Receipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Amount      string `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
}

// DecodePayload decodes a base64(JSON) payment proof. Either failure mode
// yields an error the gate treats as "invalid proof, produce 402"; it never
// propagates past the gate boundary.
func DecodePayload(raw string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed payment proof: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(decoded, &p); err != nil {
		return nil, fmt.Errorf("malformed payment proof: %w", err)
	}
	return &p, nil
}

// EncodePayload is the inverse of DecodePayload. Used by clients and tests.
func EncodePayload(p *PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeReceipt encodes a settlement receipt for the response header.
func EncodeReceipt(r Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeReceipt decodes a response-header receipt. Used by clients and tests.
func DecodeReceipt(raw string) (Receipt, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Receipt{}, err
	}
	var r Receipt
	if err := json.Unmarshal(decoded, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}
