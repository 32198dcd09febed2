package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// stubPricing quotes fixed prices for a small model table.
type stubPricing struct {
	prices map[string][2]string // model -> [base, vision]
}

func (s *stubPricing) Price(model string, hasVision bool) (string, error) {
	p, ok := s.prices[model]
	if !ok {
		return "", &unknownModelError{model}
	}
	if hasVision && p[1] != "" {
		return p[1], nil
	}
	return p[0], nil
}

func (s *stubPricing) DisplayName(model string) (string, error) {
	if _, ok := s.prices[model]; !ok {
		return "", &unknownModelError{model}
	}
	return model, nil
}

type unknownModelError struct{ model string }

func (e *unknownModelError) Error() string { return "unknown model " + e.model }

// fakeFacilitator counts /verify and /settle calls and serves canned results.
type fakeFacilitator struct {
	verifyCalls  atomic.Int64
	settleCalls  atomic.Int64
	verifyResult VerificationResult
	settleResult SettlementResult
	verifyStatus int // 0 means 200
	settleStatus int
}

func (f *fakeFacilitator) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body facilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("facilitator received bad body: %v", err)
		}
		if body.PaymentPayload == nil || body.PaymentRequirements == nil {
			t.Error("facilitator body missing paymentPayload or paymentRequirements")
		}
		switch r.URL.Path {
		case "/verify":
			f.verifyCalls.Add(1)
			if f.verifyStatus != 0 {
				w.WriteHeader(f.verifyStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(f.verifyResult)
		case "/settle":
			f.settleCalls.Add(1)
			if f.settleStatus != 0 {
				w.WriteHeader(f.settleStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(f.settleResult)
		default:
			t.Errorf("unexpected facilitator path %s", r.URL.Path)
		}
	}))
}

func newTestGate(facURL string) *Gate {
	pricing := &stubPricing{prices: map[string][2]string{
		"deepseek":      {"30000", ""},
		"claude-sonnet": {"50000", "100000"},
	}}
	builder := NewRequirementsBuilder(Config{
		Network:           "solana-devnet",
		PayTo:             "TreasuryWallet111",
		Asset:             "USDCMint111",
		FeePayer:          "FeePayer111",
		MaxTimeoutSeconds: 60,
	}, pricing)
	return NewGate(NewFacilitatorClient(facURL), builder)
}

func validProofHeader(t *testing.T) http.Header {
	t.Helper()
	encoded, err := EncodePayload(&PaymentPayload{
		X402Version: Version,
		Scheme:      Scheme,
		Network:     "solana-devnet",
		Payload: ExactPayload{
			Signature: "sig",
			Authorization: Authorization{
				From: "Payer111", To: "TreasuryWallet111", Value: "30000",
				ValidAfter: "0", ValidBefore: "99999999999", Nonce: "n-1",
			},
		},
	})
	if err != nil {
		t.Fatalf("encode proof: %v", err)
	}
	h := http.Header{}
	h.Set(PaymentHeader, encoded)
	return h
}

func TestPayloadRoundTrip(t *testing.T) {
	orig := &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana",
		Payload: ExactPayload{
			Signature: "3yZe7d",
			Authorization: Authorization{
				From: "A", To: "B", Value: "30000",
				ValidAfter: "0", ValidBefore: "1893456000", Nonce: "abc",
			},
		},
	}
	encoded, err := EncodePayload(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *orig {
		t.Errorf("round trip mismatch: got %+v want %+v", decoded, orig)
	}
}

func TestNoProofYields402WithSingleAccepts(t *testing.T) {
	fac := &fakeFacilitator{}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	// Scenario: header absent, default deepseek pricing.
	out, err := g.DrivePayment(context.Background(), http.Header{}, "deepseek", false, "https://chat.example/v1/chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Granted {
		t.Fatal("expected rejection without proof")
	}
	if out.Reply == nil || len(out.Reply.Accepts) != 1 {
		t.Fatalf("expected exactly one accepts entry, got %+v", out.Reply)
	}
	if got := out.Reply.Accepts[0].MaxAmountRequired; got != "30000" {
		t.Errorf("expected default deepseek price 30000, got %s", got)
	}
	if out.Reply.X402Version != 1 {
		t.Errorf("expected x402Version 1, got %d", out.Reply.X402Version)
	}
	if fac.verifyCalls.Load() != 0 || fac.settleCalls.Load() != 0 {
		t.Error("facilitator must not be called without a proof")
	}
}

func TestMalformedProofTreatedAsInvalid(t *testing.T) {
	fac := &fakeFacilitator{}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	for _, raw := range []string{"not-base64!!!", "aGVsbG8="} { // bad base64, then base64 of non-JSON
		h := http.Header{}
		h.Set(PaymentHeader, raw)
		out, err := g.DrivePayment(context.Background(), h, "deepseek", false, "res")
		if err != nil {
			t.Fatalf("decode failures must not escape the gate: %v", err)
		}
		if out.Granted || out.Reply == nil {
			t.Errorf("malformed proof %q must yield a 402 reply", raw)
		}
	}
	if fac.verifyCalls.Load() != 0 {
		t.Error("verify must not be called for malformed proofs")
	}
}

func TestInvalidVerificationNeverSettles(t *testing.T) {
	// Scenario: facilitator rejects the signature.
	fac := &fakeFacilitator{
		verifyResult: VerificationResult{IsValid: false, Error: "bad signature"},
	}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	out, err := g.DrivePayment(context.Background(), validProofHeader(t), "deepseek", false, "res")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Granted {
		t.Fatal("invalid verification must not grant")
	}
	if out.Reply == nil || out.Reply.Error == "" {
		t.Fatal("expected reason-qualified 402 error")
	}
	if fac.verifyCalls.Load() != 1 {
		t.Errorf("expected exactly one verify call, got %d", fac.verifyCalls.Load())
	}
	if fac.settleCalls.Load() != 0 {
		t.Errorf("settle must never run after a failed verify, got %d calls", fac.settleCalls.Load())
	}
}

func TestSettlementFailureRejects(t *testing.T) {
	fac := &fakeFacilitator{
		verifyResult: VerificationResult{IsValid: true, Payer: "Payer111"},
		settleResult: SettlementResult{Success: false, Error: "insufficient funds"},
	}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	out, err := g.DrivePayment(context.Background(), validProofHeader(t), "deepseek", false, "res")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Granted {
		t.Fatal("failed settlement must not count as paid")
	}
	if fac.settleCalls.Load() != 1 {
		t.Errorf("expected exactly one settle attempt, got %d", fac.settleCalls.Load())
	}
}

func TestSuccessfulFlowGrantsAndAttachesReceipt(t *testing.T) {
	// Scenario: verify valid, settle succeeds with a transaction id.
	fac := &fakeFacilitator{
		verifyResult: VerificationResult{IsValid: true, Payer: "Payer111"},
		settleResult: SettlementResult{Success: true, Transaction: "abc123", Amount: "100000", NetworkID: "solana-devnet"},
	}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	out, err := g.DrivePayment(context.Background(), validProofHeader(t), "claude-sonnet", true, "res")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Granted {
		t.Fatalf("expected grant, got reply %+v", out.Reply)
	}
	if out.Settlement.Transaction != "abc123" {
		t.Errorf("expected transaction abc123, got %s", out.Settlement.Transaction)
	}
	if out.Payer != "Payer111" {
		t.Errorf("expected payer from verification, got %q", out.Payer)
	}
	if got := out.Requirements.MaxAmountRequired; got != "100000" {
		t.Errorf("expected vision price 100000, got %s", got)
	}
	if fac.verifyCalls.Load() != 1 || fac.settleCalls.Load() != 1 {
		t.Errorf("expected one verify and one settle, got %d/%d",
			fac.verifyCalls.Load(), fac.settleCalls.Load())
	}

	rec := httptest.NewRecorder()
	AttachReceipt(rec.Header(), out.Settlement, out.Requirements.Network)
	raw := rec.Header().Get(ResponseHeader)
	if raw == "" {
		t.Fatal("expected receipt header")
	}
	receipt, err := DecodeReceipt(raw)
	if err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "abc123" || receipt.Amount != "100000" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if rec.Header().Get("Access-Control-Expose-Headers") != ResponseHeader {
		t.Error("receipt header must be CORS-exposed")
	}
}

func TestAttachReceiptNoOpOnFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	AttachReceipt(rec.Header(), &SettlementResult{Success: false}, "solana")
	if rec.Header().Get(ResponseHeader) != "" {
		t.Error("failed settlement must not attach a receipt")
	}
	AttachReceipt(rec.Header(), nil, "solana")
	if rec.Header().Get(ResponseHeader) != "" {
		t.Error("nil settlement must not attach a receipt")
	}
}

func TestFacilitatorErrorsFoldInto402(t *testing.T) {
	// Facilitator returns 500 on verify: the gate must degrade to a 402,
	// never surface a 5xx or an exception.
	fac := &fakeFacilitator{verifyStatus: http.StatusInternalServerError}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	out, err := g.DrivePayment(context.Background(), validProofHeader(t), "deepseek", false, "res")
	if err != nil {
		t.Fatalf("facilitator failure must not escape the gate: %v", err)
	}
	if out.Granted || out.Reply == nil {
		t.Fatal("expected 402 outcome")
	}
	if fac.settleCalls.Load() != 0 {
		t.Error("settle must not run when verify errored")
	}
}

func TestFacilitatorUnreachableFoldsInto402(t *testing.T) {
	g := newTestGate("http://127.0.0.1:1") // nothing listening
	out, err := g.DrivePayment(context.Background(), validProofHeader(t), "deepseek", false, "res")
	if err != nil {
		t.Fatalf("transport failure must not escape the gate: %v", err)
	}
	if out.Granted || out.Reply == nil {
		t.Fatal("expected 402 outcome")
	}
}

func TestUnknownModelIsConfigError(t *testing.T) {
	fac := &fakeFacilitator{}
	ts := fac.server(t)
	defer ts.Close()
	g := newTestGate(ts.URL)

	_, err := g.DrivePayment(context.Background(), http.Header{}, "gpt-99", false, "res")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestPriceMonotonicVisionAtLeastBase(t *testing.T) {
	pricing := &stubPricing{prices: map[string][2]string{
		"deepseek":      {"30000", ""},
		"claude-sonnet": {"50000", "100000"},
	}}
	for model := range pricing.prices {
		base, err := pricing.Price(model, false)
		if err != nil {
			t.Fatal(err)
		}
		vision, err := pricing.Price(model, true)
		if err != nil {
			t.Fatal(err)
		}
		// Prices are fixed-width-free decimal strings; compare numerically.
		if len(vision) < len(base) || (len(vision) == len(base) && vision < base) {
			t.Errorf("%s: vision price %s < base price %s", model, vision, base)
		}
	}
}

func TestWritePaymentRequiredHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePaymentRequired(rec, &PaymentRequired{
		X402Version: Version,
		Error:       "payment required",
		Accepts:     []PaymentRequirements{{Scheme: Scheme}},
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Expose-Headers") != ResponseHeader {
		t.Error("402 must expose the receipt header")
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("402 body must be JSON")
	}
	var body PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad 402 body: %v", err)
	}
	if body.X402Version != 1 || len(body.Accepts) != 1 {
		t.Errorf("unexpected 402 body %+v", body)
	}
}

func TestRejectionStagesAreExplicit(t *testing.T) {
	fac := &fakeFacilitator{
		verifyResult: VerificationResult{IsValid: true, Payer: "Payer111"},
		settleResult: SettlementResult{Success: true, Transaction: "tx"},
	}
	srv := fac.server(t)
	defer srv.Close()
	gate := newTestGate(srv.URL)
	ctx := context.Background()

	outcome, err := gate.DrivePayment(ctx, http.Header{}, "deepseek", false, "https://gw/v1/chat")
	if err != nil {
		t.Fatalf("DrivePayment: %v", err)
	}
	if outcome.Stage != StageProof {
		t.Errorf("no proof: stage = %q, want %q", outcome.Stage, StageProof)
	}

	h := http.Header{}
	h.Set(PaymentHeader, "not-base64!!!")
	outcome, err = gate.DrivePayment(ctx, h, "deepseek", false, "https://gw/v1/chat")
	if err != nil {
		t.Fatalf("DrivePayment: %v", err)
	}
	if outcome.Stage != StageProof {
		t.Errorf("malformed proof: stage = %q, want %q", outcome.Stage, StageProof)
	}

	fac.verifyResult = VerificationResult{IsValid: false, InvalidReason: "bad signature"}
	outcome, err = gate.DrivePayment(ctx, validProofHeader(t), "deepseek", false, "https://gw/v1/chat")
	if err != nil {
		t.Fatalf("DrivePayment: %v", err)
	}
	if outcome.Stage != StageVerify {
		t.Errorf("invalid verify: stage = %q, want %q", outcome.Stage, StageVerify)
	}

	fac.verifyResult = VerificationResult{IsValid: true, Payer: "Payer111"}
	fac.settleResult = SettlementResult{Success: false, Error: "insufficient funds"}
	outcome, err = gate.DrivePayment(ctx, validProofHeader(t), "deepseek", false, "https://gw/v1/chat")
	if err != nil {
		t.Fatalf("DrivePayment: %v", err)
	}
	if outcome.Stage != StageSettle {
		t.Errorf("settle failure: stage = %q, want %q", outcome.Stage, StageSettle)
	}

	fac.settleResult = SettlementResult{Success: true, Transaction: "tx"}
	outcome, err = gate.DrivePayment(ctx, validProofHeader(t), "deepseek", false, "https://gw/v1/chat")
	if err != nil {
		t.Fatalf("DrivePayment: %v", err)
	}
	if !outcome.Granted || outcome.Stage != "" {
		t.Errorf("granted outcome carries stage %q, want none", outcome.Stage)
	}
}
