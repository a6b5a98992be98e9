// Команда loadtest прогоняет сценарии покупки через HTTP API маркетплейса:
// товар в корзину, checkout, оплата наложенным платежом и, по желанию,
// отмена. Печатает сводку по задержкам и кодам ответов и может сохранить
// её в JSON.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/api"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	scenarioName     = "scenario"
	transportFailure = "transport_error"
	apiPrefix        = "/api/v1"
)

type loadMode string

const (
	modeCheckout          loadMode = "checkout"
	modeCheckoutPay       loadMode = "checkout-pay"
	modeCheckoutPayCancel loadMode = "checkout-pay-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	sellerID    string
	priceMinor  int64
	stock       int
	quantity    int
	buyerTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

type stepStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	steps map[string]*stepStats
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*stepStats)}
}

// record учитывает вызов шага. code содержит HTTP-статус либо transportFailure.
func (c *collector) record(step string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.steps[step]
	if !found {
		stats = &stepStats{codes: make(map[string]int64)}
		c.steps[step] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *stepStats) report() stepReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return stepReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (stepReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.steps[name]
	if !ok {
		return stepReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}

	if scenario := c.steps[scenarioName]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.steps {
		result.Steps[name] = stats.report()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "marketplace HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent buyers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-pay | checkout-pay-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for checkout-pay mode (0..100)")
	fs.StringVar(&cfg.productID, "product-id", "", "existing product to buy; a fresh product is created when empty")
	fs.StringVar(&cfg.sellerID, "seller-id", "seller-load", "seller that owns the created product")
	fs.Int64Var(&cfg.priceMinor, "price-minor", 1000, "price of the created product in minor units")
	fs.IntVar(&cfg.stock, "stock", 1_000_000, "initial stock of the created product")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order")
	fs.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.buyerTag) == "":
		return cfg, errors.New("buyer-tag is required")
	}
	if cfg.productID == "" {
		switch {
		case cfg.priceMinor <= 0:
			return cfg, errors.New("price-minor must be > 0")
		case cfg.stock <= 0:
			return cfg, errors.New("stock must be > 0")
		case strings.TrimSpace(cfg.sellerID) == "":
			return cfg, errors.New("seller-id is required")
		}
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutPay:
		return modeCheckoutPay, nil
	case modeCheckoutPayCancel:
		return modeCheckoutPayCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	client := newAPIClient(cfg.baseURL, &http.Client{Transport: transport}, cfg.timeout)

	result, err := runLoad(context.Background(), cfg, client)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad готовит товар и прогоняет сценарии пулом воркеров.
func runLoad(ctx context.Context, cfg config, client *apiClient) (report, error) {
	col := newCollector()
	if cfg.productID == "" {
		productID, err := client.createProduct(ctx, cfg, col)
		if err != nil {
			return report{}, fmt.Errorf("create product: %w", err)
		}
		cfg.productID = productID
	}

	startedAt := time.Now()
	runID := uuid.NewString()[:8]

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(ctx, client, cfg, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result, nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario выполняет один сценарий покупки от имени отдельного покупателя.
func runScenario(ctx context.Context, client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = "failed"
		}
		col.record(scenarioName, time.Since(scenarioStart), code, err == nil)
	}()

	buyer := actor{id: fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, index), role: domain.RoleBuyer}
	buyerPath := apiPrefix + "/buyers/" + buyer.id

	err = client.call(ctx, col, "AddCartItem", http.MethodPost, buyerPath+"/cart/items", buyer, "",
		map[string]any{"product_id": cfg.productID, "quantity": cfg.quantity}, nil)
	if err != nil {
		return err
	}

	var order struct {
		ID string `json:"id"`
	}
	err = client.call(ctx, col, "Checkout", http.MethodPost, buyerPath+"/checkout", buyer,
		fmt.Sprintf("lt-checkout-%s-%d", runID, index),
		map[string]any{"shipping_address": "load test street " + strconv.Itoa(index)}, &order)
	if err != nil {
		return err
	}
	if order.ID == "" {
		return errors.New("checkout response returned empty order id")
	}

	if cfg.mode == modeCheckout {
		return nil
	}

	orderPath := apiPrefix + "/orders/" + order.ID
	err = client.call(ctx, col, "PayOrder", http.MethodPost, orderPath+"/pay", buyer,
		fmt.Sprintf("lt-pay-%s-%d", runID, index),
		map[string]any{"method": string(domain.PaymentMethodCashOnDelivery)}, nil)
	if err != nil {
		return err
	}

	if cfg.mode == modeCheckoutPayCancel || (cfg.mode == modeCheckoutPay && shouldCancelScenario(index, cfg.cancelRate)) {
		return client.call(ctx, col, "CancelOrder", http.MethodPost, orderPath+"/cancel", buyer, "",
			map[string]any{"reason": "load-cancel"}, nil)
	}
	return nil
}

type actor struct {
	id   string
	role domain.Role
}

// apiClient — тонкий JSON-клиент API с заголовками актора.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func newAPIClient(baseURL string, client *http.Client, timeout time.Duration) *apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &apiClient{baseURL: baseURL, http: client, timeout: timeout}
}

// statusError — ответ API с кодом не из 2xx.
type statusError struct {
	step   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.step, e.status, e.body)
}

func (c *apiClient) createProduct(ctx context.Context, cfg config, col *collector) (string, error) {
	var product struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, col, "CreateProduct", http.MethodPost, apiPrefix+"/products",
		actor{id: cfg.sellerID, role: domain.RoleSeller}, "",
		map[string]any{
			"name":            "load test product",
			"price_minor":     cfg.priceMinor,
			"stock_quantity":  cfg.stock,
			"min_stock_level": 0,
		}, &product)
	if err != nil {
		return "", err
	}
	if product.ID == "" {
		return "", errors.New("create product response returned empty id")
	}
	return product.ID, nil
}

// call выполняет запрос и учитывает его в collector. out может быть nil.
func (c *apiClient) call(ctx context.Context, col *collector, step, method, path string, as actor, idempotencyKey string, body, out any) error {
	start := time.Now()
	status, err := c.do(ctx, step, method, path, as, idempotencyKey, body, out)
	code := transportFailure
	if status > 0 {
		code = strconv.Itoa(status)
	}
	col.record(step, time.Since(start), code, err == nil)
	return err
}

func (c *apiClient) do(ctx context.Context, step, method, path string, as actor, idempotencyKey string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode body: %w", step, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderActorID, as.id)
	req.Header.Set(api.HeaderActorRole, string(as.role))
	if idempotencyKey != "" {
		req.Header.Set(api.HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s: read body: %w", step, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &statusError{step: step, status: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode body: %w", step, err)
		}
	}
	return resp.StatusCode, nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		if name == scenarioName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Steps[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
