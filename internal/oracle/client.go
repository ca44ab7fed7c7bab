// Package oracle is the HTTP client for the external decision-oracle
// service. The service is an opaque collaborator: callers convert every
// failure into a conservative verdict rather than propagating it.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quantleap/polyrunner/internal/domain"
)

// Client calls the decision-oracle service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	gatekeeperTimeout time.Duration
	evaluateTimeout   time.Duration
}

// NewClient creates an oracle client. Per-call timeouts bound each request;
// the full evaluation is allowed to be much slower than the gatekeeper.
func NewClient(baseURL, apiKey string, gatekeeperTimeout, evaluateTimeout time.Duration) *Client {
	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		apiKey:            apiKey,
		httpClient:        &http.Client{},
		gatekeeperTimeout: gatekeeperTimeout,
		evaluateTimeout:   evaluateTimeout,
	}
}

type gatekeeperRequest struct {
	Question string `json:"question"`
	EndDate  string `json:"end_date"`
	Category string `json:"category"`
}

type gatekeeperResponse struct {
	Verdict string `json:"verdict"`
}

// Gatekeeper runs the fast time-horizon plausibility check. Anything other
// than an explicit PASS is a FAIL.
func (c *Client) Gatekeeper(ctx context.Context, question string, endDate time.Time, category domain.Category) (domain.GateVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.gatekeeperTimeout)
	defer cancel()

	req := gatekeeperRequest{
		Question: question,
		EndDate:  endDate.UTC().Format(time.RFC3339),
		Category: string(category),
	}

	var resp gatekeeperResponse
	if err := c.post(ctx, "/v1/gatekeeper", req, &resp); err != nil {
		return domain.GateFail, fmt.Errorf("oracle: gatekeeper: %w", err)
	}

	if strings.EqualFold(resp.Verdict, string(domain.GatePass)) {
		return domain.GatePass, nil
	}
	return domain.GateFail, nil
}

type evaluateRequest struct {
	MarketID     string  `json:"market_id"`
	TokenID      string  `json:"token_id"`
	Question     string  `json:"question"`
	Outcome      string  `json:"outcome"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	SpreadPct    float64 `json:"spread_pct"`
	BidLiquidity float64 `json:"bid_liquidity"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Average      float64 `json:"average"`
	Change1h     float64 `json:"change_1h"`
	DaysLeft     float64 `json:"days_left"`
	EndDate      string  `json:"end_date"`
	Context      string  `json:"context,omitempty"`
}

type evaluateResponse struct {
	Action       string  `json:"action"`
	CeilingPrice float64 `json:"ceiling_price"`
	Rationale    string  `json:"rationale"`
	HypeScore    int     `json:"hype_score"`
}

// Evaluate runs the full scoring pass. Safe for concurrent use within a
// batch. The caller maps a returned error to a REJECT decision.
func (c *Client) Evaluate(ctx context.Context, cand domain.Candidate) (domain.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.evaluateTimeout)
	defer cancel()

	req := evaluateRequest{
		MarketID:     cand.MarketID,
		TokenID:      cand.TokenID,
		Question:     cand.Question,
		Outcome:      cand.Outcome,
		Category:     string(cand.Category),
		Price:        cand.Price,
		BestBid:      cand.BestBid,
		BestAsk:      cand.BestAsk,
		SpreadPct:    cand.SpreadPct,
		BidLiquidity: cand.BidLiquidity,
		High:         cand.Stats.High,
		Low:          cand.Stats.Low,
		Average:      cand.Stats.Average,
		Change1h:     cand.Stats.Change1h,
		DaysLeft:     cand.DaysLeft,
		EndDate:      cand.EndDate.UTC().Format(time.RFC3339),
		Context:      cand.Context,
	}

	var resp evaluateResponse
	if err := c.post(ctx, "/v1/evaluate", req, &resp); err != nil {
		return domain.Decision{}, fmt.Errorf("oracle: evaluate %s: %w", cand.TokenID, err)
	}

	action := domain.ActionReject
	if strings.EqualFold(resp.Action, string(domain.ActionBuy)) {
		action = domain.ActionBuy
	}

	return domain.Decision{
		Action:       action,
		CeilingPrice: resp.CeilingPrice,
		Rationale:    resp.Rationale,
		HypeScore:    resp.HypeScore,
		EvaluatedAt:  time.Now().UTC(),
	}, nil
}

// post sends a JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.Oracle = (*Client)(nil)
