package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForScanMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Oracle.BaseURL = "http://localhost:9100"

	assert.NoError(t, cfg.Validate())
}

func TestDefaultWsHostIsTheMarketChannel(t *testing.T) {
	// The ws client dials the value verbatim; without the channel path the
	// endpoint accepts the connection but never delivers market messages.
	assert.Equal(t,
		"wss://ws-subscriptions-clob.polymarket.com/ws/market",
		Defaults().Polymarket.WsHost,
	)
}

func TestDefaultsValidateForArchiveMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"

	assert.NoError(t, cfg.Validate())
}

func TestValidateTradeModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
	assert.Contains(t, err.Error(), "oracle")

	cfg.Wallet.PrivateKey = "0xabc123"
	cfg.Oracle.BaseURL = "http://localhost:9100"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive" // avoids the wallet/oracle requirements
	cfg.Scanner.MinPrice = 0.80
	cfg.Scanner.MaxEntryPrice = 0.75
	cfg.Scanner.DedupBackend = "etcd"
	cfg.Trading.StopLossPct = 1.5
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price band")
	assert.Contains(t, err.Error(), "dedup_backend")
	assert.Contains(t, err.Error(), "stop_loss_pct")
	assert.Contains(t, err.Error(), "server: port")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Oracle.BaseURL = "http://localhost:9100"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scan"

[trading]
max_bet_usdc = 42.0

[scanner]
dedup_ttl = "10m"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.InDelta(t, 42.0, cfg.Trading.MaxBetUSDC, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Scanner.DedupTTL.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1500, cfg.Scanner.EventLimit)
	assert.InDelta(t, 0.20, cfg.Trading.StopLossPct, 1e-9)
}

func TestLoadEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[trading]
min_balance = 10.0
`), 0o644))

	t.Setenv("POLYRUNNER_TRADING_MIN_BALANCE", "25")
	t.Setenv("POLYRUNNER_MODE", "monitor")
	t.Setenv("POLYRUNNER_NOTIFY_EVENTS", "trade_executed, drawdown_pause")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 25.0, cfg.Trading.MinBalance, 1e-9)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"trade_executed", "drawdown_pause"}, cfg.Notify.Events)
}

func TestDurationTextRoundTrip(t *testing.T) {
	var out struct {
		Wait duration `toml:"wait"`
	}
	_, err := toml.Decode(`wait = "90s"`, &out)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, out.Wait.Duration)

	text, err := out.Wait.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	var d duration
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
