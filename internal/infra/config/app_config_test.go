package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coachpo/arbwatch/internal/domain/subscription"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
transport:
  baseURL: wss://stream.example.com/ws/
  endpoints:
    Depth: wss://depth.example.com/ws
  reconnectDelay: 2s
collaborators:
  baseURL: https://api.example.com/
  ordersPath: v1/orders
  timeout: 4s
polling:
  orderInterval: 3s
scopes:
  - id: panel-1
    instruments:
      - {provider: Binance, symbol: btcusdt, segment: spot}
      - {provider: binance, symbol: BTC/USDT}
      - {provider: bybit, symbol: BTC/USDT:USDT, segment: swap}
    candleIntervals: [1m, 1m, 5m]
    depthLevels: [20, 5, 0, 5]
    lookback: 1h
  - id: panel-2
activeScope: panel-2
credentials:
  - {exchange: Binance, apiKey: " k1 ", apiSecret: s1}
  - {exchange: okx}
apiServer:
  addr: ":9999"
logging:
  level: DEBUG
  format: console
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if got := cfg.Transport.URL(subscription.ChannelTick); got != "wss://stream.example.com/ws/tick" {
		t.Fatalf("unexpected tick url %q", got)
	}
	if got := cfg.Transport.URL(subscription.ChannelDepth); got != "wss://depth.example.com/ws" {
		t.Fatalf("unexpected depth url %q", got)
	}
	if cfg.Transport.ReconnectDelay != 2*time.Second || cfg.Transport.ControlRate != 5 {
		t.Fatalf("unexpected transport %+v", cfg.Transport)
	}
	if cfg.Collaborators.BaseURL != "https://api.example.com" || cfg.Collaborators.OrdersPath != "/v1/orders" {
		t.Fatalf("unexpected collaborators %+v", cfg.Collaborators)
	}
	if cfg.Collaborators.PricesPath != "/api/prices" {
		t.Fatalf("expected default prices path, got %q", cfg.Collaborators.PricesPath)
	}
	if cfg.Polling.OrderInterval != 3*time.Second || cfg.Polling.PositionInterval != 10*time.Second {
		t.Fatalf("unexpected polling %+v", cfg.Polling)
	}

	scope := cfg.Scope("panel-1")
	if scope == nil {
		t.Fatalf("panel-1 missing")
	}
	if len(scope.Instruments) != 2 {
		t.Fatalf("expected duplicate instruments collapsed, got %+v", scope.Instruments)
	}
	if scope.Instruments[1].Segment != "futures" || scope.Instruments[1].Symbol != "BTC/USDT" {
		t.Fatalf("unexpected futures instrument %+v", scope.Instruments[1])
	}
	if strings.Join(scope.CandleIntervals, ",") != "1m,5m" {
		t.Fatalf("unexpected intervals %v", scope.CandleIntervals)
	}
	if len(scope.DepthLevels) != 2 || scope.DepthLevels[0] != 5 || scope.DepthLevels[1] != 20 {
		t.Fatalf("unexpected depth levels %v", scope.DepthLevels)
	}
	if scope.Quote != "USDT" || scope.Lookback != time.Hour {
		t.Fatalf("unexpected quote/lookback %q %v", scope.Quote, scope.Lookback)
	}
	if cfg.ActiveScope != "panel-2" {
		t.Fatalf("unexpected active scope %q", cfg.ActiveScope)
	}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0].Exchange != "binance" || cfg.Credentials[0].APIKey != "k1" {
		t.Fatalf("unexpected credentials %+v", cfg.Credentials)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Database.Enabled() {
		t.Fatalf("journal should be disabled without dsn")
	}
}

func TestLoadDuplicateScopeID(t *testing.T) {
	path := writeConfig(t, `
scopes:
  - id: a
  - id: " a "
`)
	_, err := Load(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), `duplicate scope id "a"`) {
		t.Fatalf("expected duplicate scope error, got %v", err)
	}
}

func TestValidateRejectsUnknownActiveScope(t *testing.T) {
	path := writeConfig(t, `
scopes:
  - id: a
activeScope: b
`)
	if _, err := Load(context.Background(), path); err == nil {
		t.Fatalf("expected error for unknown active scope")
	}
}

func TestValidateRejectsHTTPTransport(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Transport.BaseURL = "http://stream"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected transport scheme error")
	}
}

func TestDefaultAppConfigIsValid(t *testing.T) {
	cfg := DefaultAppConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.APIServer.Addr != ":8880" || cfg.Telemetry.ServiceName != "arbwatch" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.APIServer, cfg.Telemetry)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"ARBWATCH_ENVIRONMENT":           "prod",
		"ARBWATCH_DATABASE_DSN":          "postgres://db/arbwatch",
		"ARBWATCH_ORDER_POLL_INTERVAL":   "7s",
		"ARBWATCH_CREDENTIALS_BYBIT_KEY": "from-env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := AppConfig{}
	cfg.Credentials = append(cfg.Credentials, credential("bybit", "from-file"))
	if err := applyEnvOverrides(&cfg, lookup); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Environment != EnvProd || cfg.Database.DSN != "postgres://db/arbwatch" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.Polling.OrderInterval != 7*time.Second {
		t.Fatalf("unexpected interval %v", cfg.Polling.OrderInterval)
	}
	if cfg.Credentials[0].APIKey != "from-env" {
		t.Fatalf("credential override not applied")
	}

	env["ARBWATCH_POSITION_POLL_INTERVAL"] = "soon"
	if err := applyEnvOverrides(&cfg, lookup); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ARBWATCH_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("ARBWATCH_TEST_DOTENV") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if os.Getenv("ARBWATCH_TEST_DOTENV") != "loaded" {
		t.Fatalf("dotenv value not exported")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("ARBWATCH_DATABASE_DSN", "")
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "..", "config", "app.example.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if len(cfg.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(cfg.Scopes))
	}
	first := cfg.Scope("btc-basis")
	if first == nil || first.Lookback != 24*time.Hour || len(first.Instruments) != 2 {
		t.Fatalf("unexpected btc-basis scope %+v", first)
	}
	if cfg.Database.Enabled() {
		t.Fatalf("example config must not enable the journal")
	}
}
