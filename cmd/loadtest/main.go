// Команда loadtest нагружает HTTP API бронирования слотов: много клиентов одновременно
// бронируют один слот, после чего отчёт показывает, сколько броней принято и сколько получили "esgotado".
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	headerOrderToken = "X-Order-Token"
	codeSoldOut      = "slot_unavailable"
)

type loadMode string

const (
	modeReserve  loadMode = "reserve"
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	date        string
	slotMode    string
	slotID      string
	productID   string
	variantKey  string
	phonePrefix string
	maxAccepted int
	outputPath  string
}

func (c config) validate() error {
	var errs []error
	if c.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if c.duration == 0 && c.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when duration is not set"))
	}
	if c.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if c.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if strings.TrimSpace(c.date) == "" || strings.TrimSpace(c.slotID) == "" {
		errs = append(errs, errors.New("date and slot are required"))
	}
	if c.mode == modeCheckout && strings.TrimSpace(c.productID) == "" {
		errs = append(errs, errors.New("product is required in checkout mode"))
	}
	if c.maxAccepted < 0 {
		errs = append(errs, errors.New("max-accepted must be >= 0"))
	}
	return errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeReserve:
		return modeReserve, nil
	case modeCheckout:
		return modeCheckout, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	Accepted          int64                   `json:"accepted"`
	SoldOut           int64                   `json:"sold_out"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// outcome описывает итог сценария. soldOut не считается ошибкой: слот закончился штатно.
type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeSoldOut
	outcomeFailed
)

type collector struct {
	mu       sync.Mutex
	methods  map[string]*methodStats
	outcomes map[outcome]int64
}

func newCollector() *collector {
	return &collector{
		methods:  make(map[string]*methodStats),
		outcomes: make(map[outcome]int64),
	}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
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

func (c *collector) finish(result outcome, latency time.Duration) {
	c.record("scenario", latency, outcomeName(result), result != outcomeFailed)
	c.mu.Lock()
	c.outcomes[result]++
	c.mu.Unlock()
}

func outcomeName(result outcome) string {
	switch result {
	case outcomeAccepted:
		return "accepted"
	case outcomeSoldOut:
		return "sold_out"
	default:
		return "failed"
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Accepted:        c.outcomes[outcomeAccepted],
		SoldOut:         c.outcomes[outcomeSoldOut],
		FailedScenarios: c.outcomes[outcomeFailed],
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	if scenario := c.methods["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	for name, stats := range c.methods {
		codes := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codes[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "loadtest",
		Usage: "конкурентное бронирование одного слота через HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "базовый адрес HTTP API"},
			&cli.IntFlag{Name: "total", Value: 200, Usage: "число сценариев (с --duration ограничивает сверху, если задан явно)"},
			&cli.DurationFlag{Name: "duration", Usage: "длительность прогона вместо фиксированного числа"},
			&cli.IntFlag{Name: "concurrency", Value: 40, Usage: "число параллельных клиентов"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "таймаут одного запроса"},
			&cli.StringFlag{Name: "mode", Value: string(modeReserve), Usage: "reserve | checkout"},
			&cli.StringFlag{Name: "date", Required: true, Usage: "дата слота YYYY-MM-DD"},
			&cli.StringFlag{Name: "slot-mode", Value: "delivery", Usage: "delivery | pickup"},
			&cli.StringFlag{Name: "slot", Required: true, Usage: "id слота"},
			&cli.StringFlag{Name: "product", Value: "kombucha-ginger", Usage: "товар для checkout"},
			&cli.StringFlag{Name: "variant", Value: "500ml", Usage: "вариант товара для checkout"},
			&cli.StringFlag{Name: "phone-prefix", Value: "55119", Usage: "префикс телефонов тестовых клиентов"},
			&cli.IntFlag{Name: "max-accepted", Usage: "ёмкость слота: больше принятых броней считается перепродажей"},
			&cli.StringFlag{Name: "output", Usage: "файл для JSON-отчёта"},
		},
		Action: func(c *cli.Context) error {
			mode, err := parseMode(c.String("mode"))
			if err != nil {
				return err
			}
			cfg := config{
				baseURL:     strings.TrimRight(c.String("url"), "/"),
				total:       c.Int("total"),
				totalSet:    c.IsSet("total"),
				duration:    c.Duration("duration"),
				concurrency: c.Int("concurrency"),
				timeout:     c.Duration("timeout"),
				mode:        mode,
				date:        c.String("date"),
				slotMode:    c.String("slot-mode"),
				slotID:      c.String("slot"),
				productID:   c.String("product"),
				variantKey:  c.String("variant"),
				phonePrefix: c.String("phone-prefix"),
				maxAccepted: c.Int("max-accepted"),
				outputPath:  c.String("output"),
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			result, err := runLoad(c.Context, cfg, &http.Client{Timeout: cfg.timeout})
			if err != nil {
				return err
			}
			printReport(c.App.Writer, result, cfg)
			if cfg.outputPath != "" {
				if err := writeJSONReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			return verdict(result, cfg)
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("load test failed")
	}
}

// verdict: ошибки сценариев и перепродажа слота делают прогон неуспешным.
func verdict(result report, cfg config) error {
	if cfg.maxAccepted > 0 && result.Accepted > int64(cfg.maxAccepted) {
		return fmt.Errorf("oversell detected: accepted=%d capacity=%d", result.Accepted, cfg.maxAccepted)
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%d scenarios failed", result.FailedScenarios)
	}
	return nil
}

func runLoad(ctx context.Context, cfg config, client *http.Client) (report, error) {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d", startedAt.UnixNano()%1_000_000)
	col := newCollector()
	runner := &scenarioRunner{cfg: cfg, client: client, col: col, runID: runID}

	jobs := make(chan int, cfg.concurrency*2)
	group, groupCtx := errgroup.WithContext(ctx)
	for worker := 0; worker < cfg.concurrency; worker++ {
		group.Go(func() error {
			for index := range jobs {
				runner.run(groupCtx, index)
			}
			return nil
		})
	}

	dispatchJobs(ctx, jobs, cfg)
	if err := group.Wait(); err != nil {
		return report{}, err
	}
	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	limited := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !limited || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

type scenarioRunner struct {
	cfg    config
	client *http.Client
	col    *collector
	runID  string
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type reservationResponse struct {
	OrderID string `json:"order_id"`
	Token   string `json:"token"`
}

func (s *scenarioRunner) run(ctx context.Context, index int) {
	start := time.Now()
	result := s.scenario(ctx, index)
	s.col.finish(result, time.Since(start))
}

func (s *scenarioRunner) scenario(ctx context.Context, index int) outcome {
	var reservation reservationResponse
	status, code, err := s.call(ctx, "Reserve", "/api/v1/reservations", "", map[string]any{
		"date":    s.cfg.date,
		"mode":    s.cfg.slotMode,
		"slot_id": s.cfg.slotID,
	}, &reservation)
	switch {
	case err != nil:
		return outcomeFailed
	case status == http.StatusConflict && code == codeSoldOut:
		return outcomeSoldOut
	case status != http.StatusCreated || reservation.OrderID == "":
		return outcomeFailed
	}
	if s.cfg.mode == modeReserve {
		return outcomeAccepted
	}

	phone := fmt.Sprintf("%s%s%04d", s.cfg.phonePrefix, s.runID, index)
	status, code, err = s.call(ctx, "Checkout", "/api/v1/checkout", reservation.Token, map[string]any{
		"order_id": reservation.OrderID,
		"lines": []map[string]any{{
			"kind": "product", "product_id": s.cfg.productID, "variant_key": s.cfg.variantKey, "quantity": 1,
		}},
		"customer": map[string]any{
			"name": "Load " + phone, "phone": phone, "method": s.cfg.slotMode, "address": "Rua Teste, " + phone,
		},
	}, nil)
	switch {
	case err != nil:
		return outcomeFailed
	case status == http.StatusConflict && code == codeSoldOut:
		return outcomeSoldOut
	case status != http.StatusOK:
		return outcomeFailed
	}
	return outcomeAccepted
}

// call шлёт POST и записывает статус в collector. 409 esgotado для бронирования не ошибка.
func (s *scenarioRunner) call(ctx context.Context, method, path, token string, body any, out any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(headerOrderToken, token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.col.record(method, time.Since(start), "transport_error", false)
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		s.col.record(method, latency, "read_error", false)
		return 0, "", err
	}

	code := fmt.Sprintf("%d", resp.StatusCode)
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code != "" {
			code = apiErr.Code
		}
		s.col.record(method, latency, code, code == codeSoldOut)
		return resp.StatusCode, code, nil
	}
	s.col.record(method, latency, code, true)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, code, fmt.Errorf("decode %s response: %w", method, err)
		}
	}
	return resp.StatusCode, code, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь отчёта задаёт оператор через флаг.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	fmt.Fprintln(out, "Load test summary")
	fmt.Fprintf(out, "mode=%s slot=%s/%s/%s run=%s total=%d accepted=%d sold_out=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.date, cfg.slotMode, cfg.slotID, runTarget(cfg),
		result.TotalScenarios, result.Accepted, result.SoldOut, result.FailedScenarios, result.ErrorRate,
	)
	fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
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
