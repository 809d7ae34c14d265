package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/swap-cycler/internal/circuitbreaker"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/types"
)

// AggregatorConfig configures the routed swap client
type AggregatorConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	BreakerFailures   int
	BreakerTimeout    time.Duration
	OnBreakerChange   func(name string, from, to circuitbreaker.State)
}

// QuoteRequest asks the aggregator for a route
type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps uint64
	SwapMode    types.SwapMode
}

// AggregatorQuote is a route quote. Raw keeps the exact response so it can be
// posted back unchanged when requesting the swap transaction.
type AggregatorQuote struct {
	InputMint            string            `json:"inputMint"`
	OutputMint           string            `json:"outputMint"`
	InAmount             string            `json:"inAmount"`
	OutAmount            string            `json:"outAmount"`
	OtherAmountThreshold string            `json:"otherAmountThreshold"`
	SwapMode             string            `json:"swapMode"`
	SlippageBps          int               `json:"slippageBps"`
	PriceImpactPct       string            `json:"priceImpactPct"`
	RoutePlan            []json.RawMessage `json:"routePlan"`

	Raw json.RawMessage `json:"-"`
}

// Amounts parses the string-encoded amounts
func (q *AggregatorQuote) Amounts() (in, out, threshold uint64, err error) {
	if in, err = strconv.ParseUint(q.InAmount, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("parse inAmount %q: %w", q.InAmount, err)
	}
	if out, err = strconv.ParseUint(q.OutAmount, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("parse outAmount %q: %w", q.OutAmount, err)
	}
	if threshold, err = strconv.ParseUint(q.OtherAmountThreshold, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("parse otherAmountThreshold %q: %w", q.OtherAmountThreshold, err)
	}
	return in, out, threshold, nil
}

type swapRequest struct {
	QuoteResponse       json.RawMessage `json:"quoteResponse"`
	UserPublicKey       string          `json:"userPublicKey"`
	WrapAndUnwrapSol    bool            `json:"wrapAndUnwrapSol"`
	AsLegacyTransaction bool            `json:"asLegacyTransaction"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// AggregatorClient talks to a Jupiter-compatible quote/swap API
type AggregatorClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
}

// NewAggregatorClient creates a client guarded by a circuit breaker
func NewAggregatorClient(cfg AggregatorConfig) *AggregatorClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	breakerCfg := circuitbreaker.DefaultConfig("aggregator")
	if cfg.BreakerFailures > 0 {
		breakerCfg.MaxFailures = cfg.BreakerFailures
	}
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}
	breakerCfg.IsFailure = apperrors.IsRetryable
	breakerCfg.OnStateChange = cfg.OnBreakerChange

	return &AggregatorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    circuitbreaker.NewCircuitBreaker(breakerCfg),
	}
}

// BreakerState exposes the guard state for health reporting
func (c *AggregatorClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// Quote requests a route for req
func (c *AggregatorClient) Quote(ctx context.Context, req QuoteRequest) (*AggregatorQuote, error) {
	mode := req.SwapMode
	if mode == "" {
		mode = types.ExactIn
	}
	params := url.Values{}
	params.Set("inputMint", req.InputMint.String())
	params.Set("outputMint", req.OutputMint.String())
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.FormatUint(req.SlippageBps, 10))
	params.Set("swapMode", string(mode))
	params.Set("asLegacyTransaction", "true")

	var quote *AggregatorQuote
	err := c.call(ctx, "quote", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		body, err := c.do(httpReq, "quote")
		if err != nil {
			return err
		}
		var q AggregatorQuote
		if err := json.Unmarshal(body, &q); err != nil {
			return apperrors.NewAggregatorError("quote", http.StatusOK, fmt.Errorf("decode quote: %w", err))
		}
		q.Raw = body
		quote = &q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// SwapTransaction requests a base64 legacy transaction executing quote for user
func (c *AggregatorClient) SwapTransaction(ctx context.Context, quote *AggregatorQuote, user solana.PublicKey) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:       quote.Raw,
		UserPublicKey:       user.String(),
		WrapAndUnwrapSol:    false,
		AsLegacyTransaction: true,
	})
	if err != nil {
		return "", fmt.Errorf("encode swap request: %w", err)
	}

	var blob string
	err = c.call(ctx, "swap", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		body, err := c.do(httpReq, "swap")
		if err != nil {
			return err
		}
		var resp swapResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return apperrors.NewAggregatorError("swap", http.StatusOK, fmt.Errorf("decode swap: %w", err))
		}
		if resp.Error != "" || resp.SwapTransaction == "" {
			return apperrors.NewConfigurationError("AGGREGATOR_REJECTED", fmt.Sprintf("swap rejected: %s", resp.Error))
		}
		blob = resp.SwapTransaction
		return nil
	})
	return blob, err
}

func (c *AggregatorClient) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewAggregatorError(endpoint, 0, err)
	}
	err := c.breaker.Execute(ctx, fn)
	if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
		return apperrors.NewAggregatorError(endpoint, 0, err)
	}
	return err
}

func (c *AggregatorClient) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewAggregatorError(endpoint, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.NewAggregatorError(endpoint, resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.NewAggregatorError(endpoint, resp.StatusCode, fmt.Errorf("%s", truncate(body)))
	default:
		// 4xx: no route, bad mint, amount too small
		return nil, apperrors.NewConfigurationError("AGGREGATOR_REJECTED",
			fmt.Sprintf("%s returned %d: %s", endpoint, resp.StatusCode, truncate(body)))
	}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
