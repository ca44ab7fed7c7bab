package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantleap/polyrunner/internal/crypto"
	"github.com/quantleap/polyrunner/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles book and balance reads, order placement,
// cancellation, and status queries.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	creds         *crypto.APICreds
	signatureType int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer provides EIP-712 signatures for orders and the auth flow.
func NewClobClient(baseURL string, signer *crypto.Signer, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		signatureType: signatureType,
	}
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers
// (POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE) to the
// derive-api-key endpoint, populating the client's creds on success.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.creds = &crypto.APICreds{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// GetBook returns the current order book for one token. The endpoint is
// public and needs no authentication.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (APIBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doRequest(ctx, http.MethodGet, "/book?"+params.Encode(), nil, false)
	if err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: get book: %w", err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return APIBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book, nil
}

// GetPriceHistory returns recent trade-price samples for a token.
// interval is a Gamma-style window like "6h"; fidelity is the sample
// spacing in minutes.
func (c *ClobClient) GetPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error) {
	params := url.Values{}
	params.Set("market", tokenID)
	params.Set("interval", interval)
	params.Set("fidelity", strconv.Itoa(fidelity))

	body, err := c.doRequest(ctx, http.MethodGet, "/prices-history?"+params.Encode(), nil, false)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: price history: %w", err)
	}

	var resp struct {
		History []APIPricePoint `json:"history"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode price history: %w", err)
	}

	points := make([]domain.PricePoint, 0, len(resp.History))
	for _, p := range resp.History {
		points = append(points, domain.PricePoint{TS: time.Unix(p.T, 0).UTC(), Price: p.P})
	}
	return points, nil
}

// GetTickSize returns the minimum price increment for a token.
func (c *ClobClient) GetTickSize(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doRequest(ctx, http.MethodGet, "/tick-size?"+params.Encode(), nil, false)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: tick size: %w", err)
	}

	var resp struct {
		MinimumTickSize float64 `json:"minimum_tick_size"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode tick size: %w", err)
	}
	return resp.MinimumTickSize, nil
}

// PostOrder signs and submits a limit order. Price and size come from the
// domain order; maker/taker amounts are derived in 6-decimal fixed point
// depending on side.
func (c *ClobClient) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	address := c.signer.Address().Hex()

	units := func(v float64) string {
		return strconv.FormatInt(int64(math.Round(v*1e6)), 10)
	}
	var makerAmount, takerAmount string
	var sideNum int
	switch order.Side {
	case domain.OrderSideBuy:
		makerAmount = units(order.Price * order.Size) // USDC spent
		takerAmount = units(order.Size)               // shares received
		sideNum = 0
	default:
		makerAmount = units(order.Size)               // shares sold
		takerAmount = units(order.Price * order.Size) // USDC received
		sideNum = 1
	}

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideNum,
		SignatureType: c.signatureType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideName(order.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     address,
		"orderType": string(order.Type),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", body, true)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.ToDomainOrderResult(), nil
}

// CancelTokenOrders cancels every resting order on a single token, leaving
// orders on other tokens untouched.
func (c *ClobClient) CancelTokenOrders(ctx context.Context, marketID, tokenID string) error {
	body := map[string]any{
		"market":   marketID,
		"asset_id": tokenID,
	}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/cancel-market-orders", body, true)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel token orders %s: %w", tokenID, err)
	}

	var result struct {
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if len(result.NotCanceled) > 0 {
		return fmt.Errorf("polymarket/clob: %d orders not cancelled on %s", len(result.NotCanceled), tokenID)
	}
	return nil
}

// GetOrderStatus returns the exchange's view of a single order.
func (c *ClobClient) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, true)
	if err != nil {
		return domain.OrderStatusFailed, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var status APIOrderStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.OrderStatusFailed, fmt.Errorf("polymarket/clob: decode order status: %w", err)
	}
	return mapOrderStatus(status.Status), nil
}

// GetCollateralBalance returns the wallet's spendable USDC balance.
func (c *ClobClient) GetCollateralBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("asset_type", "COLLATERAL")
	return c.getBalance(ctx, params)
}

// GetTokenBalance returns the wallet's holdings of one outcome token,
// in shares.
func (c *ClobClient) GetTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("asset_type", "CONDITIONAL")
	params.Set("token_id", tokenID)
	return c.getBalance(ctx, params)
}

func (c *ClobClient) getBalance(ctx context.Context, params url.Values) (float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/balance-allowance?"+params.Encode(), nil, true)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: balance: %w", err)
	}

	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	raw, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", resp.Balance, err)
	}
	// Balances are reported in 6-decimal base units.
	return raw / 1e6, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, optionally HMAC-signs, sends, and reads an HTTP request
// against the CLOB API, returning the raw response body.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body any, authed bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		if c.creds == nil {
			return nil, fmt.Errorf("%w: API credentials not derived", domain.ErrUnauthorized)
		}
		// The signed path excludes the query string.
		sigPath := path
		if i := strings.IndexByte(path, '?'); i >= 0 {
			sigPath = path[:i]
		}
		for k, v := range c.creds.Headers(c.signer.Address().Hex(), method, sigPath, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func sideName(s domain.OrderSide) string {
	if s == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}
