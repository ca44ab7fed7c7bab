package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/domain"
)

func TestGatekeeper(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/gatekeeper", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Will it happen?", req["question"])
		assert.Equal(t, "Sports", req["category"])

		_ = json.NewEncoder(w).Encode(map[string]string{"verdict": "pass"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", time.Second, time.Second)
	verdict, err := c.Gatekeeper(context.Background(), "Will it happen?", time.Now().Add(48*time.Hour), domain.CategorySports)
	require.NoError(t, err)
	assert.Equal(t, domain.GatePass, verdict)
	assert.Equal(t, "Bearer key-1", gotAuth)
}

func TestGatekeeperUnknownVerdictFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"verdict": "maybe"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, time.Second)
	verdict, err := c.Gatekeeper(context.Background(), "q", time.Now(), domain.CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, domain.GateFail, verdict)
}

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/evaluate", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok1", req["token_id"])
		assert.InDelta(t, 0.20, req["price"].(float64), 1e-9)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"action":        "BUY",
			"ceiling_price": 0.40,
			"rationale":     "strong catalyst",
			"hype_score":    9,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, time.Second)
	dec, err := c.Evaluate(context.Background(), domain.Candidate{
		MarketID: "m1", TokenID: "tok1", Question: "q", Price: 0.20,
		EndDate: time.Now().Add(5 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, dec.IsBuy())
	assert.InDelta(t, 0.40, dec.CeilingPrice, 1e-9)
	assert.Equal(t, 9, dec.HypeScore)
	assert.Equal(t, "strong catalyst", dec.Rationale)
}

func TestEvaluateUnknownActionIsReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"action": "HOLD"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, time.Second)
	dec, err := c.Evaluate(context.Background(), domain.Candidate{TokenID: "tok1"})
	require.NoError(t, err)
	assert.False(t, dec.IsBuy())
}

func TestEvaluateNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, time.Second)
	_, err := c.Evaluate(context.Background(), domain.Candidate{TokenID: "tok1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
