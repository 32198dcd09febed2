package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FacilitatorError reports a failed facilitator call. Status is zero for
// transport-level failures. The gate always catches this error and degrades
// to a failed verification or settlement result; it must never surface as a
// 5xx to the paying client.
type FacilitatorError struct {
	Status  int
	Message string
}

func (e *FacilitatorError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("facilitator error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("facilitator error: %s", e.Message)
}

// FacilitatorClient talks JSON-over-HTTP to the payment facilitator.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) *FacilitatorClient {
	fc := &FacilitatorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(fc)
	}
	return fc
}

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(fc *FacilitatorClient) { fc.client = c }
}

// facilitatorRequest is the body of both /verify and /settle.
type facilitatorRequest struct {
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator to validate a payment proof against the
// requirements. No funds move.
func (fc *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*VerificationResult, error) {
	var out VerificationResult
	if err := fc.post(ctx, "/verify", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to execute the transfer on-chain. Callers must
// only invoke this after a successful Verify for the same request.
func (fc *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*SettlementResult, error) {
	var out SettlementResult
	if err := fc.post(ctx, "/settle", payload, reqs, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends one facilitator call. Transport errors and non-2xx responses
// both collapse into a single *FacilitatorError.
func (fc *FacilitatorClient) post(ctx context.Context, endpoint string, payload *PaymentPayload, reqs *PaymentRequirements, out any) error {
	ctx, span := otel.Tracer("chatgate.x402").Start(ctx, "facilitator"+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("x402.network", reqs.Network)),
	)
	defer span.End()

	body, err := json.Marshal(facilitatorRequest{PaymentPayload: payload, PaymentRequirements: reqs})
	if err != nil {
		span.SetStatus(codes.Error, "marshal failed")
		return &FacilitatorError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fc.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, "create request failed")
		return &FacilitatorError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := fc.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return &FacilitatorError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fe := &FacilitatorError{Status: resp.StatusCode, Message: string(msg)}
		span.RecordError(fe)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return fe
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.SetStatus(codes.Error, "decode failed")
		return &FacilitatorError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
