package aggregator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ProgramID is the aggregator's on-chain program; recent prioritization fees
// are sampled against it.
const ProgramID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"

// QuoteRequest is one ExactIn quote for amount of InputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
	// Protected restricts intermediate tokens and excludes DEXes that are
	// commonly sandwiched.
	Protected bool
}

// Quote is the decoded quote plus the raw response, which must be echoed
// back verbatim when requesting the swap transaction.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	SlippageBps    int
	RoutePlan      json.RawMessage
	Raw            json.RawMessage
}

type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

// SwapParams tunes the swap transaction build.
type SwapParams struct {
	// PriorityFeeLamports is applied when non-zero.
	PriorityFeeLamports uint64
	DynamicSlippage     bool
}

type dynamicSlippage struct {
	MinBps int `json:"minBps"`
	MaxBps int `json:"maxBps"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage  `json:"quoteResponse"`
	UserPublicKey             string           `json:"userPublicKey"`
	WrapAndUnwrapSol          bool             `json:"wrapAndUnwrapSol"`
	UseSharedAccounts         bool             `json:"useSharedAccounts"`
	DynamicComputeUnitLimit   bool             `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports any              `json:"prioritizationFeeLamports"`
	DynamicSlippage           *dynamicSlippage `json:"dynamicSlippage,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Client is a rate-limited Jupiter v6 REST client.
type Client struct {
	baseURL      string
	http         *http.Client
	limiter      *rate.Limiter
	quoteTimeout time.Duration
	swapTimeout  time.Duration
}

func NewClient(baseURL string, quoteTimeout, swapTimeout time.Duration, ratePerSec float64, burst int) *Client {
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), burst),
		quoteTimeout: quoteTimeout,
		swapTimeout:  swapTimeout,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// GetQuote fetches an ExactIn quote.
func (c *Client) GetQuote(ctx context.Context, q QuoteRequest) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.quoteTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("inputMint", q.InputMint)
	params.Set("outputMint", q.OutputMint)
	params.Set("amount", strconv.FormatUint(q.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(q.SlippageBps))
	params.Set("swapMode", "ExactIn")
	params.Set("onlyDirectRoutes", "false")
	params.Set("asLegacyTransaction", "false")
	params.Set("maxAccounts", "64")
	if q.Protected {
		params.Set("restrictIntermediateTokens", "true")
		params.Set("excludeDexes", "Aldrin,Crema")
	}

	resp, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter quote: status %d: %s", resp.StatusCode, truncate(raw))
	}
	return ParseQuote(raw)
}

// ParseQuote decodes a raw quote response, including one echoed back by a
// client at confirm time.
func ParseQuote(raw []byte) (*Quote, error) {
	var r quoteResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("jupiter quote: decode: %w", err)
	}
	in, err := strconv.ParseUint(r.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: inAmount %q: %w", r.InAmount, err)
	}
	out, err := strconv.ParseUint(r.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: outAmount %q: %w", r.OutAmount, err)
	}
	var impact float64
	if r.PriceImpactPct != "" {
		if impact, err = strconv.ParseFloat(r.PriceImpactPct, 64); err != nil {
			return nil, fmt.Errorf("jupiter quote: priceImpactPct %q: %w", r.PriceImpactPct, err)
		}
	}
	return &Quote{
		InputMint:      r.InputMint,
		OutputMint:     r.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: impact,
		SlippageBps:    r.SlippageBps,
		RoutePlan:      r.RoutePlan,
		Raw:            json.RawMessage(raw),
	}, nil
}

// GetSwapTransaction returns the unsigned serialized transaction for quote,
// to be signed by user.
func (c *Client) GetSwapTransaction(ctx context.Context, quote json.RawMessage, user string, p SwapParams) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.swapTimeout)
	defer cancel()

	body := swapRequest{
		QuoteResponse:             quote,
		UserPublicKey:             user,
		WrapAndUnwrapSol:          true,
		UseSharedAccounts:         true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	}
	if p.PriorityFeeLamports > 0 {
		body.PrioritizationFeeLamports = p.PriorityFeeLamports
	}
	if p.DynamicSlippage {
		body.DynamicSlippage = &dynamicSlippage{MinBps: 10, MaxBps: 300}
	}

	resp, err := c.do(ctx, http.MethodPost, "/swap", body)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jupiter swap: status %d: %s", resp.StatusCode, truncate(raw))
	}
	var sr swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("jupiter swap: decode: %w", err)
	}
	if sr.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter swap: empty swapTransaction")
	}
	tx, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: transaction encoding: %w", err)
	}
	return tx, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
