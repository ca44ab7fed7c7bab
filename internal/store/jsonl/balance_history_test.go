package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/polyrunner/internal/domain"
)

func TestLastPeakMissingFile(t *testing.T) {
	h, err := NewBalanceHistory(filepath.Join(t.TempDir(), "balance.jsonl"))
	require.NoError(t, err)

	peak, err := h.LastPeak(context.Background())
	require.NoError(t, err)
	assert.Zero(t, peak)
}

func TestAppendThenLastPeak(t *testing.T) {
	ctx := context.Background()
	h, err := NewBalanceHistory(filepath.Join(t.TempDir(), "data", "balance.jsonl"))
	require.NoError(t, err)

	require.NoError(t, h.Append(ctx, domain.BalanceSample{TS: time.Now(), Balance: 100, Peak: 100}))
	require.NoError(t, h.Append(ctx, domain.BalanceSample{TS: time.Now(), Balance: 95, Peak: 120}))

	peak, err := h.LastPeak(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, peak, 1e-9)
}

func TestLastPeakSkipsCorruptTrailingLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "balance.jsonl")
	h, err := NewBalanceHistory(path)
	require.NoError(t, err)

	require.NoError(t, h.Append(ctx, domain.BalanceSample{TS: time.Now(), Balance: 80, Peak: 110}))

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":"2025-06-01T`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	peak, err := h.LastPeak(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, peak, 1e-9)
}
