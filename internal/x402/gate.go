package x402

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Gate drives the per-request payment state machine:
//
//	AWAITING_PROOF → (no proof)        → REJECTED_402
//	AWAITING_PROOF → (proof present)   → VERIFYING
//	VERIFYING      → (invalid)         → REJECTED_402   (settle never called)
//	VERIFYING      → (valid)           → SETTLING
//	SETTLING       → (failure)         → REJECTED_402   (not paid)
//	SETTLING       → (success)         → GRANTED
//
// Settlement is attempted at most once per request and only strictly after a
// successful verification. The gate performs no retries: proofs are bound to
// a single-use nonce, so retry policy belongs to the wallet.
type Gate struct {
	fac     *FacilitatorClient
	builder *RequirementsBuilder
}

// NewGate wires the state machine to a facilitator and a requirements
// builder.
func NewGate(fac *FacilitatorClient, builder *RequirementsBuilder) *Gate {
	return &Gate{fac: fac, builder: builder}
}

// RejectionStage names the state-machine step a 402 came from.
type RejectionStage string

const (
	StageProof  RejectionStage = "proof"  // no proof, or proof undecodable
	StageVerify RejectionStage = "verify" // facilitator rejected verification
	StageSettle RejectionStage = "settle" // settlement failed after valid verify
)

// Outcome is the terminal result of one pass through the state machine.
type Outcome struct {
	Granted bool

	// Set when Granted.
	Settlement   *SettlementResult
	Requirements *PaymentRequirements
	Payer        string

	// Set when not Granted: the 402 reply body and the stage that produced
	// it.
	Reply *PaymentRequired
	Stage RejectionStage
}

// ExtractProof reads the payment proof header. An empty result is the
// "no proof offered" state, not an error.
func (g *Gate) ExtractProof(h http.Header) string {
	return h.Get(PaymentHeader)
}

// Verify calls the facilitator and folds every failure (transport, non-2xx,
// decode) into an invalid result. It never returns an error to the caller.
func (g *Gate) Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) VerificationResult {
	res, err := g.fac.Verify(ctx, payload, reqs)
	if err != nil {
		slog.Warn("payment verification call failed", slog.String("error", err.Error()))
		return VerificationResult{IsValid: false, Error: "payment verification unavailable"}
	}
	return *res
}

// Settle calls the facilitator and folds every failure into an unsuccessful
// result, mirroring Verify.
func (g *Gate) Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) SettlementResult {
	res, err := g.fac.Settle(ctx, payload, reqs)
	if err != nil {
		slog.Warn("payment settlement call failed", slog.String("error", err.Error()))
		return SettlementResult{Success: false, Error: "payment settlement failed"}
	}
	return *res
}

// DrivePayment runs the state machine for one request. header supplies the
// proof; model/hasVision/resource parameterize the quote. The returned
// Outcome is terminal: either Granted with a settlement, or a 402 reply.
// Unknown models surface as an error (a configuration problem, not a
// payment rejection).
func (g *Gate) DrivePayment(ctx context.Context, header http.Header, model string, hasVision bool, resource string) (Outcome, error) {
	reqs, err := g.builder.Build(model, hasVision, resource)
	if err != nil {
		return Outcome{}, err
	}

	raw := g.ExtractProof(header)
	if raw == "" {
		return rejected(reqs, StageProof, "payment required"), nil
	}

	payload, err := DecodePayload(raw)
	if err != nil {
		// Malformed proofs are handled like absent ones; the decode error
		// never crosses the gate boundary.
		slog.Debug("rejecting malformed payment proof", slog.String("error", err.Error()))
		return rejected(reqs, StageProof, "invalid payment proof"), nil
	}

	// The facilitator pair shares one deadline derived from the quoted
	// requirements. Exceeding it reads as a settlement failure, not a fatal
	// error.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(reqs.MaxTimeoutSeconds)*time.Second)
	defer cancel()

	verification := g.Verify(ctx, payload, reqs)
	if !verification.IsValid {
		reason := verification.Error
		if reason == "" {
			reason = verification.InvalidReason
		}
		if reason == "" {
			reason = "payment verification failed"
		}
		return rejected(reqs, StageVerify, "payment verification failed: "+reason), nil
	}

	settlement := g.Settle(ctx, payload, reqs)
	if !settlement.Success {
		reason := settlement.Error
		if reason == "" {
			reason = "settlement failed"
		}
		return rejected(reqs, StageSettle, "payment settlement failed: "+reason), nil
	}

	return Outcome{
		Granted:      true,
		Settlement:   &settlement,
		Requirements: reqs,
		Payer:        verification.Payer,
	}, nil
}

func rejected(reqs *PaymentRequirements, stage RejectionStage, msg string) Outcome {
	return Outcome{
		Stage: stage,
		Reply: &PaymentRequired{
			X402Version: Version,
			Error:       msg,
			Accepts:     []PaymentRequirements{*reqs},
		},
	}
}

// WritePaymentRequired emits a 402 response with the protocol's CORS
// headers, so browser wallets can read the requirements and retry with a
// proof.
func WritePaymentRequired(w http.ResponseWriter, reply *PaymentRequired) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+PaymentHeader)
	h.Set("Access-Control-Expose-Headers", ResponseHeader)
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(reply)
}

// AttachReceipt sets the settlement receipt header on a successful
// response. A no-op when the settlement did not succeed.
func AttachReceipt(h http.Header, settlement *SettlementResult, network string) {
	if settlement == nil || !settlement.Success {
		return
	}
	encoded, err := EncodeReceipt(Receipt{
		Success:     true,
		Transaction: settlement.Transaction,
		Network:     network,
		Amount:      settlement.Amount,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		slog.Warn("failed to encode payment receipt", slog.String("error", err.Error()))
		return
	}
	h.Set(ResponseHeader, encoded)
	h.Set("Access-Control-Expose-Headers", ResponseHeader)
}
