package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"crossscanner/config"

	"go.uber.org/zap"
)

const exchangeInfoFixture = `{
  "timezone": "UTC",
  "serverTime": 1700000000000,
  "rateLimits": [],
  "exchangeFilters": [],
  "symbols": [
    {"symbol": "ETHUSDT", "pair": "ETHUSDT", "contractType": "PERPETUAL", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "USDT", "marginAsset": "USDT"},
    {"symbol": "BTCUSDT", "pair": "BTCUSDT", "contractType": "PERPETUAL", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT"},
    {"symbol": "BTCUSDT_250328", "pair": "BTCUSDT", "contractType": "CURRENT_QUARTER", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT"},
    {"symbol": "ETHBUSD", "pair": "ETHBUSD", "contractType": "PERPETUAL", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "BUSD", "marginAsset": "BUSD"}
  ]
}`

// fakeExchange serves flat 5m klines whose newest candle is still open.
func fakeExchange(t *testing.T) *httptest.Server {
	t.Helper()
	step := 5 * time.Minute
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/klines":
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			last := time.Now().Truncate(step)
			rows := make([]string, limit)
			for i := range rows {
				open := last.Add(-time.Duration(limit-1-i) * step).UnixMilli()
				rows[i] = fmt.Sprintf(`[%d,"100","100","100","100","1",%d,"100",1,"1","100","0"]`, open, open+step.Milliseconds()-1)
			}
			w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(exchangeInfoFixture))
		default:
			http.NotFound(w, r)
		}
	}))
}

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{Environment: "dev"}
	cfg.Binance.REST.BaseURL = baseURL
	cfg.Binance.REST.Timeout = 5 * time.Second
	cfg.Scan = config.DefaultScanConfig()
	cfg.Scan.EMAShort = 3
	cfg.Scan.EMALong = 5
	cfg.Scan.Symbols = []string{"BTCUSDT", "SOLUSDT"}
	cfg.Rate = config.DefaultRateConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	return cfg
}

// go test -v --run TestBuildAndScan
func TestBuildAndScan(t *testing.T) {
	srv := fakeExchange(t)
	defer srv.Close()

	ctx := context.Background()
	a, err := Build(ctx, testConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	defer a.Close()

	res := a.Service.RunScanOnce(ctx, config.ScanOverrides{})
	if !res.OK || res.Scanned != 2 || res.Count != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if st := a.Service.State(); st.ScannedCount != 2 || st.RunID != res.RunID {
		t.Fatalf("state not recorded: %+v", st.State)
	}
}

// go test -v --run TestRefresherStoresUniverse
func TestRefresherStoresUniverse(t *testing.T) {
	srv := fakeExchange(t)
	defer srv.Close()

	ctx := context.Background()
	a, err := Build(ctx, testConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var seen []string
	symbols, err := a.Refresher(func(s []string) { seen = s }).RefreshOnce(ctx)
	if err != nil {
		t.Fatalf("RefreshOnce returned error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Fatalf("unexpected universe %v", symbols)
	}
	if got := a.Service.Symbols(ctx); len(got) != 2 || got[1] != "ETHUSDT" {
		t.Fatalf("universe not stored: %v", got)
	}
	if len(seen) != 2 {
		t.Fatalf("extra callback not called: %v", seen)
	}
}

// go test -v --run TestServeStopsOnCancel
func TestServeStopsOnCancel(t *testing.T) {
	srv := fakeExchange(t)
	defer srv.Close()

	a, err := Build(context.Background(), testConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx, ServeOptions{})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
