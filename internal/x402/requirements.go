package x402

// Pricing resolves per-model quotes. Implemented by the router's model
// table, which applies environment overrides over built-in fallbacks.
type Pricing interface {
	// Price returns the smallest-unit price string for a model; hasVision
	// selects the vision price. Unknown models return an error.
	Price(model string, hasVision bool) (string, error)
	// DisplayName returns the human-readable model name.
	DisplayName(model string) (string, error)
}

// Config is the payment-side configuration, resolved once at startup and
// treated as immutable.
type Config struct {
	Network           string // e.g. "solana" or "solana-devnet"
	PayTo             string // treasury wallet address
	Asset             string // payment token mint address
	FeePayer          string // facilitator fee payer address
	MaxTimeoutSeconds int    // upper bound for the verify+settle pair
}

// RequirementsBuilder constructs fresh PaymentRequirements per request.
type RequirementsBuilder struct {
	cfg     Config
	pricing Pricing
}

// NewRequirementsBuilder creates a builder over live config and pricing.
func NewRequirementsBuilder(cfg Config, pricing Pricing) *RequirementsBuilder {
	return &RequirementsBuilder{cfg: cfg, pricing: pricing}
}

// Build quotes a payment requirement for one request. The price is the
// vision price when hasVision is set, else the base price. An unknown model
// returns the pricing error unwrapped so callers can classify it.
func (b *RequirementsBuilder) Build(model string, hasVision bool, resource string) (*PaymentRequirements, error) {
	price, err := b.pricing.Price(model, hasVision)
	if err != nil {
		return nil, err
	}
	name, err := b.pricing.DisplayName(model)
	if err != nil {
		return nil, err
	}
	return &PaymentRequirements{
		Scheme:            Scheme,
		Network:           b.cfg.Network,
		MaxAmountRequired: price,
		Resource:          resource,
		Description:       "Per-message payment for " + name,
		MimeType:          "application/json",
		PayTo:             b.cfg.PayTo,
		MaxTimeoutSeconds: b.cfg.MaxTimeoutSeconds,
		Asset:             b.cfg.Asset,
		Extra:             Extra{FeePayer: b.cfg.FeePayer},
	}, nil
}
