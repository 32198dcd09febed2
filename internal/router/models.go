package router

// Default per-message prices in the token's smallest unit (USDC, 6 decimal
// places). Overridable per model through CHATGATE_PRICE_* environment
// variables, applied by the app wiring before the router is built.
const (
	DefaultDeepseekPrice     = "30000"  // $0.03
	DefaultOpenAIPrice       = "50000"  // $0.05
	DefaultOpenAIVisionPrice = "80000"  // $0.08
	DefaultClaudePrice       = "50000"  // $0.05
	DefaultClaudeVisionPrice = "100000" // $0.10
)

// DefaultModels returns the built-in model table with fallback prices.
func DefaultModels() []Model {
	return []Model{
		{
			ID:          "deepseek",
			DisplayName: "DeepSeek Chat",
			Provider:    "deepseek",
			Vision:      false,
			BasePrice:   DefaultDeepseekPrice,
		},
		{
			ID:          "gpt-4o",
			DisplayName: "GPT-4o",
			Provider:    "openai",
			Vision:      true,
			BasePrice:   DefaultOpenAIPrice,
			VisionPrice: DefaultOpenAIVisionPrice,
		},
		{
			ID:          "claude-sonnet",
			DisplayName: "Claude Sonnet",
			Provider:    "anthropic",
			Vision:      true,
			BasePrice:   DefaultClaudePrice,
			VisionPrice: DefaultClaudeVisionPrice,
		},
	}
}
