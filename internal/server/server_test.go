package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/birdeye"
	"solscope/internal/infra/retry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeMonitor struct {
	monitoring atomic.Bool
	starts     atomic.Int32
	startErr   error
	trades     []domain.TradeActivity
	launches   []domain.TokenLaunch
	panics     bool
}

func (f *fakeMonitor) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	f.monitoring.Store(true)
	return nil
}

func (f *fakeMonitor) Stop()              { f.monitoring.Store(false) }
func (f *fakeMonitor) IsMonitoring() bool { return f.monitoring.Load() }

func (f *fakeMonitor) Stats() domain.MonitorStats {
	if f.panics {
		panic("stats unavailable")
	}
	return domain.MonitorStats{TotalTrades: uint64(len(f.trades)), TotalHourlyVolume: decimal.NewFromInt(1)}
}

func (f *fakeMonitor) RecentLaunches(n int) []domain.TokenLaunch {
	if len(f.launches) > n {
		return f.launches[:n]
	}
	return f.launches
}

func (f *fakeMonitor) AllRecentTrades() []domain.TradeActivity { return f.trades }

// TokenTrades walks the oldest-first fixture backwards
func (f *fakeMonitor) TokenTrades(mint string, n int) []domain.TradeActivity {
	var out []domain.TradeActivity
	for i := len(f.trades) - 1; i >= 0 && len(out) < n; i-- {
		if f.trades[i].TokenMint == mint {
			out = append(out, f.trades[i])
		}
	}
	return out
}

func (f *fakeMonitor) Launch(mint string) (domain.TokenLaunch, bool) {
	for _, l := range f.launches {
		if l.TokenMint == mint {
			return l, true
		}
	}
	return domain.TokenLaunch{}, false
}

type fakeJournal struct {
	launches map[string]domain.TokenLaunch
	trades   []domain.TradeActivity // newest first
	err      error
}

func (j *fakeJournal) GetLaunch(mint string) (*domain.TokenLaunch, error) {
	if j.err != nil {
		return nil, j.err
	}
	l, ok := j.launches[mint]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (j *fakeJournal) TradesByMint(mint string, limit int) ([]domain.TradeActivity, error) {
	if j.err != nil {
		return nil, j.err
	}
	var out []domain.TradeActivity
	for _, t := range j.trades {
		if t.TokenMint == mint && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakePrices map[string]string

func (p fakePrices) LastPrice(ctx context.Context, mint string) (string, error) {
	return p[mint], nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestServer(t *testing.T, mon PumpMonitor, upstream http.HandlerFunc) (*Server, *atomic.Int32) {
	return newTestServerWith(t, Deps{Monitor: mon}, upstream)
}

func newTestServerWith(t *testing.T, deps Deps, upstream http.HandlerFunc) (*Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(up.Close)

	client := birdeye.NewClient(birdeye.Options{
		BaseURL: up.URL,
		Policy:  retry.NewPolicy(retry.DefaultConfig()).WithSleep(noSleep),
	})
	deps.Birdeye = client
	deps.Metrics = infra.NewMetrics()
	return New(":0", deps), &calls
}

func okUpstream(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"success":true,"data":{"items":[]}}`))
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPumpFun_Get(t *testing.T) {
	mon := &fakeMonitor{}
	for i := 0; i < 25; i++ {
		mon.trades = append(mon.trades, domain.TradeActivity{Signature: fmt.Sprintf("t%d", i)})
	}
	mon.launches = []domain.TokenLaunch{{TokenMint: "MINT"}}
	s, _ := newTestServer(t, mon, okUpstream)

	w := do(t, s, http.MethodGet, "/api/pumpfun", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp pumpFunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.IsMonitoring {
		t.Errorf("unexpected flags %+v", resp)
	}
	if len(resp.RecentTrades) != 20 || resp.RecentTrades[0].Signature != "t5" || resp.RecentTrades[19].Signature != "t24" {
		t.Errorf("expected the last 20 trades oldest first, got %d", len(resp.RecentTrades))
	}
	if len(resp.RecentLaunches) != 1 || resp.Stats.TotalTrades != 25 {
		t.Errorf("unexpected payload %+v", resp)
	}
}

func TestPumpFun_GetFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeMonitor{panics: true}, okUpstream)

	w := do(t, s, http.MethodGet, "/api/pumpfun", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var resp pumpFunResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error == "" || !resp.Stats.TotalHourlyVolume.IsZero() {
		t.Errorf("expected zeroed failure payload, got %+v", resp)
	}
	if resp.RecentTrades == nil || resp.RecentLaunches == nil {
		t.Error("expected empty arrays, not null")
	}
}

func TestPumpFun_Control(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		monitoring bool
	}{
		{"start", `{"action":"start"}`, http.StatusOK, true},
		{"stop", `{"action":"stop"}`, http.StatusOK, false},
		{"invalid action", `{"action":"pause"}`, http.StatusBadRequest, false},
		{"missing action", `{}`, http.StatusBadRequest, false},
		{"bad json", `{`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := &fakeMonitor{}
			s, _ := newTestServer(t, mon, okUpstream)

			w := do(t, s, http.MethodPost, "/api/pumpfun", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if mon.IsMonitoring() != tt.monitoring {
				t.Errorf("monitoring = %v, want %v", mon.IsMonitoring(), tt.monitoring)
			}
			if tt.status == http.StatusOK {
				var resp struct {
					Success      bool   `json:"success"`
					IsMonitoring bool   `json:"isMonitoring"`
					Message      string `json:"message"`
				}
				json.Unmarshal(w.Body.Bytes(), &resp)
				if !resp.Success || resp.IsMonitoring != tt.monitoring || resp.Message == "" {
					t.Errorf("unexpected response %+v", resp)
				}
			}
		})
	}
}

func TestPumpFun_StartFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeMonitor{startErr: errors.New("dial refused")}, okUpstream)

	w := do(t, s, http.MethodPost, "/api/pumpfun", `{"action":"start"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestBirdeye_Validation(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"missing endpoint", http.MethodGet, "/api/birdeye", "", http.StatusBadRequest},
		{"unknown endpoint", http.MethodGet, "/api/birdeye?endpoint=nope", "", http.StatusBadRequest},
		{"overview without address", http.MethodGet, "/api/birdeye?endpoint=overview", "", http.StatusBadRequest},
		{"wallet without address", http.MethodPost, "/api/birdeye", `{"endpoint":"wallet"}`, http.StatusBadRequest},
		{"bad interval", http.MethodGet, "/api/birdeye?endpoint=ohlcv&address=MINT&type=7x", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, calls := newTestServer(t, &fakeMonitor{}, okUpstream)
			w := do(t, s, tt.method, tt.target, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if calls.Load() != 0 {
				t.Errorf("expected no upstream calls, got %d", calls.Load())
			}
		})
	}
}

func TestBirdeye_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		path   string
	}{
		{"trending", http.MethodGet, "/api/birdeye?endpoint=trending", "", "/defi/token_trending"},
		{"meme", http.MethodGet, "/api/birdeye?endpoint=meme", "", "/defi/v3/token/meme/list"},
		{"overview", http.MethodGet, "/api/birdeye?endpoint=overview&address=MINT", "", "/defi/token_overview"},
		{"metadata post", http.MethodPost, "/api/birdeye", `{"endpoint":"metadata","address":"MINT"}`, "/defi/v3/token/meta-data/single"},
		{"ohlcv", http.MethodGet, "/api/birdeye?endpoint=ohlcv&address=MINT&type=1d", "", "/defi/v3/ohlcv"},
		{"trades", http.MethodGet, "/api/birdeye?endpoint=trades&address=MINT", "", "/defi/txs/token"},
		{"wallet", http.MethodPost, "/api/birdeye", `{"endpoint":"wallet","address":"WALLET"}`, "/v1/wallet/token_list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			s, _ := newTestServer(t, &fakeMonitor{}, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				okUpstream(w, r)
			})

			w := do(t, s, tt.method, tt.target, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
			}
			if gotPath != tt.path {
				t.Errorf("upstream path = %q, want %q", gotPath, tt.path)
			}
		})
	}
}

func TestBirdeye_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		upstream int
		status   int
	}{
		{"client error passes through", http.StatusNotFound, http.StatusNotFound},
		{"server error becomes 500", http.StatusBadGateway, http.StatusInternalServerError},
		{"rate limit becomes 500", http.StatusTooManyRequests, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeMonitor{}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.upstream)
				w.Write([]byte(`{"success":false,"message":"nope"}`))
			})

			w := do(t, s, http.MethodGet, "/api/birdeye?endpoint=overview&address=MINT", "")
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeMonitor{}, okUpstream)

	if w := do(t, s, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	w := do(t, s, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	var snap infra.MetricsSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Errorf("decode metrics: %v", err)
	}
}

func TestTokenLogo_Disabled(t *testing.T) {
	s, _ := newTestServer(t, &fakeMonitor{}, okUpstream)
	if w := do(t, s, http.MethodGet, "/api/tokens/MINT/logo", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStream_Broadcast(t *testing.T) {
	metrics := infra.NewMetrics()
	stream := NewStream(metrics)
	server := httptest.NewServer(stream)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for stream.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stream.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d", stream.ClientCount())
	}

	stream.OnTrade(domain.TradeActivity{Signature: "sig", TokenMint: "MINT", IsBuy: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string               `json:"type"`
		Data domain.TradeActivity `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "trade" || msg.Data.Signature != "sig" {
		t.Errorf("unexpected message %+v", msg)
	}

	stream.OnLaunchEnriched(domain.TokenLaunch{TokenMint: "MINT", Signature: "launch-sig", Name: "Dog"})
	var update struct {
		Type string             `json:"type"`
		Data domain.TokenLaunch `json:"data"`
	}
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read: %v", err)
	}
	if update.Type != "launch_update" || update.Data.Name != "Dog" {
		t.Errorf("unexpected update %+v", update)
	}

	stream.Close()
	if stream.ClientCount() != 0 {
		t.Error("expected no clients after Close")
	}
	if metrics.Snapshot().StreamClients != 0 {
		t.Error("expected stream client gauge back at 0")
	}
}

func tradeAt(sig, mint string, at time.Time, price string) domain.TradeActivity {
	return domain.TradeActivity{Signature: sig, TokenMint: mint, Timestamp: at, Price: decimal.RequireFromString(price)}
}

func TestTokenTrades(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mon := &fakeMonitor{trades: []domain.TradeActivity{
		tradeAt("m2", "MINT", base.Add(2*time.Minute), "0.2"),
		tradeAt("x1", "OTHER", base.Add(3*time.Minute), "9"),
		tradeAt("m3", "MINT", base.Add(4*time.Minute), "0.3"),
	}}
	journal := &fakeJournal{trades: []domain.TradeActivity{
		tradeAt("m3", "MINT", base.Add(4*time.Minute), "0.3"),
		tradeAt("m2", "MINT", base.Add(2*time.Minute), "0.2"),
		tradeAt("m1", "MINT", base.Add(time.Minute), "0.1"),
	}}

	tests := []struct {
		name    string
		journal TokenJournal
		target  string
		status  int
		want    []string
	}{
		{"memory only", nil, "/api/tokens/MINT/trades", http.StatusOK, []string{"m3", "m2"}},
		{"topped up from journal", journal, "/api/tokens/MINT/trades", http.StatusOK, []string{"m3", "m2", "m1"}},
		{"limit", journal, "/api/tokens/MINT/trades?limit=2", http.StatusOK, []string{"m3", "m2"}},
		{"journal failure keeps memory", &fakeJournal{err: errors.New("disk")}, "/api/tokens/MINT/trades", http.StatusOK, []string{"m3", "m2"}},
		{"unknown mint", journal, "/api/tokens/NONE/trades", http.StatusOK, []string{}},
		{"bad limit", nil, "/api/tokens/MINT/trades?limit=-1", http.StatusBadRequest, nil},
		{"non numeric limit", nil, "/api/tokens/MINT/trades?limit=ten", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServerWith(t, Deps{Monitor: mon, Journal: tt.journal}, okUpstream)
			w := do(t, s, http.MethodGet, tt.target, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if tt.want == nil {
				return
			}

			var resp struct {
				Trades []domain.TradeActivity `json:"trades"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Trades == nil {
				t.Fatal("expected an array, got null")
			}
			got := make([]string, 0, len(resp.Trades))
			for _, tr := range resp.Trades {
				got = append(got, tr.Signature)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("trades = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenDetail(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mon := &fakeMonitor{
		launches: []domain.TokenLaunch{{TokenMint: "LIVE", Signature: "live-sig"}},
		trades:   []domain.TradeActivity{tradeAt("t1", "LIVE", base, "0.5")},
	}
	journal := &fakeJournal{launches: map[string]domain.TokenLaunch{"OLD": {TokenMint: "OLD", Signature: "old-sig"}}}

	tests := []struct {
		name      string
		prices    LastPriceSource
		address   string
		status    int
		launchSig string
		price     string
	}{
		{"live launch, price from trades", nil, "LIVE", http.StatusOK, "live-sig", "0.5"},
		{"shared price wins", fakePrices{"LIVE": "0.75"}, "LIVE", http.StatusOK, "live-sig", "0.75"},
		{"journaled launch", nil, "OLD", http.StatusOK, "old-sig", ""},
		{"unknown token", nil, "NONE", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServerWith(t, Deps{Monitor: mon, Journal: journal, Prices: tt.prices}, okUpstream)
			w := do(t, s, http.MethodGet, "/api/tokens/"+tt.address, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp tokenDetailResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Launch == nil || resp.Launch.Signature != tt.launchSig {
				t.Errorf("launch = %+v, want signature %s", resp.Launch, tt.launchSig)
			}
			switch {
			case tt.price == "" && resp.LastPrice != nil:
				t.Errorf("expected no price, got %s", resp.LastPrice)
			case tt.price != "" && (resp.LastPrice == nil || !resp.LastPrice.Equal(decimal.RequireFromString(tt.price))):
				t.Errorf("lastPrice = %v, want %s", resp.LastPrice, tt.price)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrInvalidArgument), http.StatusBadRequest},
		{&domain.RemoteAPIError{StatusCode: 403}, http.StatusForbidden},
		{&domain.RemoteAPIError{StatusCode: 503}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
