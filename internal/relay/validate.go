package relay

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
)

const maxSlippageBps = 10_000

// SwapRequest asks to swap Amount lamports of InputMint into OutputMint,
// delivered to Destination.
type SwapRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	Destination string
	SlippageBps int
	Protected   bool
}

// Protection holds the caller's MEV-resistance options for a confirm.
type Protection struct {
	Enable      bool
	UseBundling bool
	// MaxRetries bounds swap submission attempts; zero selects the default.
	MaxRetries int
}

type ConfirmRequest struct {
	WalletAddress string
	Token         string
	Destination   string
	Quote         json.RawMessage
	Confirmed     bool
	Protection    Protection
}

// Limits are the thresholds behind quote warnings.
type Limits struct {
	SmallAmount       uint64
	RecommendedAmount uint64
	ModerateImpactPct float64
	HighImpactPct     float64
}

func ValidateSwapRequest(req SwapRequest) error {
	if req.InputMint != NativeMint {
		return validationError("input asset must be native SOL (%s)", NativeMint).with("inputMint", req.InputMint)
	}
	if req.OutputMint == req.InputMint {
		return validationError("input and output assets must differ")
	}
	if _, err := solana.PublicKeyFromBase58(req.OutputMint); err != nil {
		return validationError("invalid output asset %q", req.OutputMint)
	}
	if req.Amount == 0 {
		return validationError("amount must be a positive integer")
	}
	if _, err := solana.PublicKeyFromBase58(req.Destination); err != nil {
		return validationError("invalid destination address %q", req.Destination)
	}
	if req.SlippageBps < 0 || req.SlippageBps > maxSlippageBps {
		return validationError("slippageBps must be between 0 and %d", maxSlippageBps).with("slippageBps", req.SlippageBps)
	}
	return nil
}

// ValidateConfirmRequest checks the structural fields of a confirm payload
// and returns the decoded quote. The quote's numbers were validated when it
// was issued and are trusted here.
func ValidateConfirmRequest(req ConfirmRequest) (*aggregator.Quote, error) {
	if _, err := solana.PublicKeyFromBase58(req.WalletAddress); err != nil {
		return nil, validationError("invalid wallet address %q", req.WalletAddress)
	}
	if req.Token == "" {
		return nil, validationError("resumption token is required")
	}
	if !req.Confirmed {
		// Nothing else is needed to cancel.
		return nil, nil
	}
	if _, err := solana.PublicKeyFromBase58(req.Destination); err != nil {
		return nil, validationError("invalid destination address %q", req.Destination)
	}
	if p := req.Protection.MaxRetries; p < 0 || p > 10 {
		return nil, validationError("maxRetries must be between 1 and 10").with("maxRetries", p)
	}
	if len(req.Quote) == 0 {
		return nil, validationError("quote is required")
	}
	q, err := aggregator.ParseQuote(req.Quote)
	if err != nil {
		return nil, validationError("malformed quote: %v", err)
	}
	if q.InputMint != NativeMint {
		return nil, validationError("quote input asset must be native SOL")
	}
	if _, err := solana.PublicKeyFromBase58(q.OutputMint); err != nil || q.OutputMint == NativeMint {
		return nil, validationError("invalid quote output asset %q", q.OutputMint)
	}
	if q.InAmount == 0 {
		return nil, validationError("quote inAmount must be positive")
	}
	return q, nil
}

func validateQuote(q *aggregator.Quote) error {
	if q.OutAmount == 0 {
		return newError(CodeQuoteInvalid, "aggregator returned a zero outAmount", nil).with("outAmount", q.OutAmount)
	}
	return nil
}

func warnings(amount uint64, q *aggregator.Quote, l Limits) []string {
	var out []string
	switch {
	case l.SmallAmount > 0 && amount < l.SmallAmount:
		out = append(out, fmt.Sprintf("very small amount: %d lamports may not cover network fees", amount))
	case l.RecommendedAmount > 0 && amount < l.RecommendedAmount:
		out = append(out, fmt.Sprintf("small amount: at least %d lamports is recommended", l.RecommendedAmount))
	}
	if q != nil {
		switch {
		case l.HighImpactPct > 0 && q.PriceImpactPct > l.HighImpactPct:
			out = append(out, fmt.Sprintf("high price impact: %.2f%%", q.PriceImpactPct))
		case l.ModerateImpactPct > 0 && q.PriceImpactPct > l.ModerateImpactPct:
			out = append(out, fmt.Sprintf("moderate price impact: %.2f%%", q.PriceImpactPct))
		}
	}
	return out
}
