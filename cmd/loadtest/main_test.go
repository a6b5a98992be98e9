package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/api"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/ledger"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

// newMarketplaceServer поднимает настоящий HTTP API поверх in-memory хранилища.
func newMarketplaceServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "loadtest-test")

	store := memory.NewStore()
	carts := cart.NewService(store, cart.WithLogger(entry))
	registry := payment.DefaultRegistry(payment.NewSimulatedGateway(0), payment.RegistryConfig{CODLimitMinor: 1_000_000})
	services := api.Services{
		Inventory: inventory.NewService(store, inventory.WithLogger(entry)),
		Carts:     carts,
		Checkout:  checkout.NewService(store, checkout.WithLogger(entry), checkout.WithCartInvalidator(carts)),
		Payments:  payment.NewOrchestrator(store, registry, payment.WithLogger(entry)),
		Ledger:    ledger.NewService(store, ledger.WithLogger(entry)),
		Orders:    order.NewService(store, order.WithLogger(entry)),
	}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(entry))

	srv := httptest.NewServer(api.NewServer(services, api.WithLogger(entry), api.WithIdempotency(guard)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:     baseURL,
		total:       6,
		concurrency: 3,
		timeout:     5 * time.Second,
		mode:        mode,
		sellerID:    "seller-load",
		priceMinor:  1000,
		stock:       100,
		quantity:    1,
		buyerTag:    "load",
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "checkout", input: "checkout", want: modeCheckout},
		{name: "checkout-pay", input: " checkout-pay ", want: modeCheckoutPay},
		{name: "checkout-pay-cancel", input: "checkout-pay-cancel", want: modeCheckoutPayCancel},
		{name: "unsupported", input: "bad", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-addr=http://127.0.0.1:8080/",
			"-mode=checkout-pay",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-cancel-rate=10",
			"-price-minor=99",
			"-quantity=2",
			"-buyer-tag=stage",
			"-output=/tmp/out.json",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.totalSet {
			t.Fatalf("expected totalSet=true")
		}
		if cfg.baseURL != "http://127.0.0.1:8080" {
			t.Fatalf("trailing slash must be trimmed, got %s", cfg.baseURL)
		}
		if cfg.mode != modeCheckoutPay {
			t.Fatalf("unexpected mode: %s", cfg.mode)
		}
		if cfg.total != 12 || cfg.concurrency != 3 || cfg.quantity != 2 || cfg.priceMinor != 99 {
			t.Fatalf("unexpected numeric config: %+v", cfg)
		}
		if cfg.timeout != 2*time.Second {
			t.Fatalf("unexpected timeout: %s", cfg.timeout)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-duration=3s", "-concurrency=2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.duration != 3*time.Second {
			t.Fatalf("unexpected duration: %s", cfg.duration)
		}
		if cfg.totalSet {
			t.Fatalf("expected totalSet=false when -total was not provided")
		}
	})

	t.Run("existing product skips product validation", func(t *testing.T) {
		cfg, err := parseConfig([]string{"-product-id= p-1 ", "-price-minor=0", "-stock=0"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.productID != "p-1" {
			t.Fatalf("unexpected product id: %q", cfg.productID)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "parse flags"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "empty addr", args: []string{"-addr= "}, wantErr: "addr is required"},
			{name: "zero quantity", args: []string{"-quantity=0"}, wantErr: "quantity must be > 0"},
			{name: "zero price", args: []string{"-price-minor=0"}, wantErr: "price-minor must be > 0"},
			{name: "zero stock", args: []string{"-stock=0"}, wantErr: "stock must be > 0"},
			{name: "bad mode", args: []string{"-mode=create"}, wantErr: "unsupported mode"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := parseConfig(tc.args)
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 100})
		if _, open := <-jobs; open {
			t.Fatal("jobs channel must be closed without dispatching")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioName, 10*time.Millisecond, "ok", true)
	c.record(scenarioName, 20*time.Millisecond, "failed", false)
	c.record("Checkout", 15*time.Millisecond, "201", true)

	snap, ok := c.snapshot(scenarioName)
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["ok"] != 1 || snap.Codes["failed"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}
	if _, ok := c.snapshot("missing"); ok {
		t.Fatal("unknown step must not have a snapshot")
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if _, ok := r.Steps["Checkout"]; !ok {
		t.Fatalf("expected Checkout stats in report")
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 != 25 || summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 95); p <= 30 || p > 40 {
		t.Fatalf("unexpected percentile: %f", p)
	}
	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Fatalf("empty summary expected, got %+v", got)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}

	if shouldCancelScenario(5, 0) || !shouldCancelScenario(5, 100) {
		t.Fatal("unexpected cancel decision for edge rates")
	}
	if !shouldCancelScenario(109, 10) || shouldCancelScenario(110, 10) {
		t.Fatal("cancel decision must follow index%100 < rate")
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	for _, bad := range []string{".", "../outside.json"} {
		if err := writeJSONReport(bad, sample); err == nil {
			t.Fatalf("expected error for path %q", bad)
		}
	}
}

func TestRunLoad_AgainstAPI(t *testing.T) {
	tests := []struct {
		mode      loadMode
		wantSteps []string
		noSteps   []string
	}{
		{mode: modeCheckout, wantSteps: []string{"CreateProduct", "AddCartItem", "Checkout"}, noSteps: []string{"PayOrder", "CancelOrder"}},
		{mode: modeCheckoutPay, wantSteps: []string{"AddCartItem", "Checkout", "PayOrder"}, noSteps: []string{"CancelOrder"}},
		{mode: modeCheckoutPayCancel, wantSteps: []string{"Checkout", "PayOrder", "CancelOrder"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			srv := newMarketplaceServer(t)
			cfg := testConfig(srv.URL, tt.mode)

			result, err := runLoad(context.Background(), cfg, newAPIClient(srv.URL, srv.Client(), cfg.timeout))
			if err != nil {
				t.Fatalf("runLoad failed: %v", err)
			}
			if result.TotalScenarios != int64(cfg.total) || result.FailedScenarios != 0 {
				t.Fatalf("unexpected scenario totals: %+v steps=%+v", result, result.Steps)
			}
			for _, step := range tt.wantSteps {
				stats, ok := result.Steps[step]
				if !ok {
					t.Fatalf("expected %s stats in report", step)
				}
				if stats.Failed != 0 {
					t.Fatalf("%s failed: %+v", step, stats)
				}
			}
			for _, step := range tt.noSteps {
				if _, ok := result.Steps[step]; ok {
					t.Fatalf("step %s must not run in mode %s", step, tt.mode)
				}
			}
			if got := result.Steps["Checkout"].Codes["201"]; got != int64(cfg.total) {
				t.Fatalf("expected %d checkouts with 201, got %d", cfg.total, got)
			}
		})
	}
}

func TestRunLoad_ExistingProductAndStockExhaustion(t *testing.T) {
	srv := newMarketplaceServer(t)
	cfg := testConfig(srv.URL, modeCheckout)
	cfg.stock = 2

	client := newAPIClient(srv.URL, srv.Client(), cfg.timeout)
	productID, err := client.createProduct(context.Background(), cfg, newCollector())
	if err != nil {
		t.Fatalf("createProduct failed: %v", err)
	}

	cfg.productID = productID
	cfg.total = 4
	cfg.concurrency = 1

	result, err := runLoad(context.Background(), cfg, client)
	if err != nil {
		t.Fatalf("runLoad failed: %v", err)
	}
	if _, ok := result.Steps["CreateProduct"]; ok {
		t.Fatal("existing product must not be recreated")
	}
	if result.SuccessScenarios != 2 || result.FailedScenarios != 2 {
		t.Fatalf("expected two orders before stock runs out, got %+v", result)
	}
}

func TestRunLoad_CreateProductFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, modeCheckout)
	_, err := runLoad(context.Background(), cfg, newAPIClient(srv.URL, srv.Client(), cfg.timeout))
	if err == nil || !strings.Contains(err.Error(), "create product") {
		t.Fatalf("expected create product error, got %v", err)
	}
}

func TestAPIClientCall(t *testing.T) {
	var gotHeaders atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders.Store(r.Header.Clone())
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"id":"o-1"}`))
		case "/broken":
			_, _ = w.Write([]byte(`not json`))
		default:
			http.Error(w, `{"code":"NOT_FOUND"}`, http.StatusNotFound)
		}
	}))

	client := newAPIClient(srv.URL, srv.Client(), time.Second)
	col := newCollector()
	as := actor{id: "buyer-1", role: "buyer"}

	var out struct {
		ID string `json:"id"`
	}
	if err := client.call(context.Background(), col, "Ok", http.MethodPost, "/ok", as, "key-1", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "o-1" {
		t.Fatalf("unexpected decoded body: %+v", out)
	}
	headers := gotHeaders.Load().(http.Header)
	if headers.Get(api.HeaderActorID) != "buyer-1" || headers.Get(api.HeaderActorRole) != "buyer" || headers.Get(api.HeaderIdempotencyKey) != "key-1" {
		t.Fatalf("unexpected request headers: %+v", headers)
	}

	err := client.call(context.Background(), col, "Missing", http.MethodGet, "/missing", as, "", nil, nil)
	var statusErr *statusError
	if !errors.As(err, &statusErr) || statusErr.status != http.StatusNotFound {
		t.Fatalf("expected statusError 404, got %v", err)
	}
	if headers := gotHeaders.Load().(http.Header); headers.Get(api.HeaderIdempotencyKey) != "" {
		t.Fatal("idempotency key must be sent only when set")
	}

	if err := client.call(context.Background(), col, "Broken", http.MethodGet, "/broken", as, "", nil, &out); err == nil {
		t.Fatal("expected decode error")
	}

	srv.Close()
	if err := client.call(context.Background(), col, "Down", http.MethodGet, "/ok", as, "", nil, nil); err == nil {
		t.Fatal("expected transport error")
	}

	tests := []struct {
		step string
		code string
		ok   bool
	}{
		{step: "Ok", code: "200", ok: true},
		{step: "Missing", code: "404"},
		{step: "Broken", code: "200"},
		{step: "Down", code: transportFailure},
	}
	for _, tt := range tests {
		snap, found := col.snapshot(tt.step)
		if !found {
			t.Fatalf("missing stats for %s", tt.step)
		}
		if snap.Codes[tt.code] != 1 {
			t.Fatalf("%s: expected code %s, got %+v", tt.step, tt.code, snap.Codes)
		}
		if (snap.Success == 1) != tt.ok {
			t.Fatalf("%s: unexpected success flag: %+v", tt.step, snap)
		}
	}
}

func TestPrintReport(t *testing.T) {
	result := report{
		TotalScenarios:   3,
		SuccessScenarios: 2,
		FailedScenarios:  1,
		ErrorRate:        1.0 / 3.0,
		DurationSeconds:  1.5,
		RPS:              2,
		Steps: map[string]stepReport{
			scenarioName: {Calls: 3},
			"PayOrder":   {Calls: 2, Success: 2},
			"Checkout":   {Calls: 3, Success: 2, Failed: 1},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, result, config{mode: modeCheckoutPay, total: 3})
	out := buf.String()

	for _, want := range []string{"Load test summary", "mode=checkout-pay run=count:3", "Checkout: calls=3", "PayOrder: calls=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Index(out, "Checkout:") > strings.Index(out, "PayOrder:") {
		t.Fatal("steps must be printed in sorted order")
	}
	if strings.Contains(out, scenarioName+": calls") {
		t.Fatal("scenario row must not be printed as a step")
	}
}
