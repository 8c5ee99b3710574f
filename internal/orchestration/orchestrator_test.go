package orchestration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/ratelimit"
	"github.com/agbru/cityweather/internal/weather"
)

// fetchCall records when a fake fetch ran.
type fetchCall struct {
	city       string
	start, end time.Time
}

// fakeProvider is a function-backed weather.Provider that records call times.
type fakeProvider struct {
	FetchFunc func(ctx context.Context, city string) (weather.Data, error)

	mu    sync.Mutex
	calls []fetchCall
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(ctx context.Context, city string) (weather.Data, error) {
	start := time.Now()
	var (
		d   weather.Data
		err error
	)
	if f.FetchFunc != nil {
		d, err = f.FetchFunc(ctx, city)
	} else {
		d = weather.Data{City: city}
	}
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{city: city, start: start, end: time.Now()})
	f.mu.Unlock()
	return d, err
}

func (f *fakeProvider) recorded() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]fetchCall(nil), f.calls...)
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// sleepFor returns a fetch func that succeeds after d unless ctx ends first.
func sleepFor(d time.Duration) func(context.Context, string) (weather.Data, error) {
	return func(ctx context.Context, city string) (weather.Data, error) {
		select {
		case <-time.After(d):
			return weather.Data{City: city, Temperature: 20}, nil
		case <-ctx.Done():
			return weather.Data{}, ctx.Err()
		}
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSpace(s.buf.String()), "\n")
}

func countContaining(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

var defaultCities = []string{"San Francisco", "Mexico City", "London"}

func TestFetchAll_AllSucceed(t *testing.T) {
	t.Parallel()
	var logs syncBuffer
	provider := &fakeProvider{FetchFunc: sleepFor(10 * time.Millisecond)}

	results, summary := FetchAll(context.Background(), defaultCities, provider, Options{
		Timeout: time.Second,
		Limits:  ratelimit.Options{MaxInFlight: 3},
		Logger:  logging.NewConsoleLogger(&logs, "cityweather"),
	}, NullProgressReporter{}, io.Discard)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.City != defaultCities[i] {
			t.Errorf("result %d is %q, want %q (input order)", i, r.City, defaultCities[i])
		}
		if !r.Succeeded() || r.Data == nil || r.Err != nil {
			t.Errorf("result for %s: %+v", r.City, r)
		}
	}
	if summary.Total != 3 || summary.Succeeded != 3 || summary.Failed != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.RunID == "" {
		t.Error("summary should carry a run id")
	}

	lines := logs.lines()
	if got := countContaining(lines, " - cityweather - INFO - Successfully fetched weather for "); got != 3 {
		t.Errorf("expected 3 success lines, got %d:\n%s", got, strings.Join(lines, "\n"))
	}
	for _, city := range defaultCities {
		if countContaining(lines, "Successfully fetched weather for "+city+" in 0.") != 1 {
			t.Errorf("missing success line for %s", city)
		}
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last, " - INFO - Fetched weather for 3 cities in ") || !strings.HasSuffix(last, "s") {
		t.Errorf("aggregate line should be last, got %q", last)
	}
}

func TestFetchAll_OneTimeout(t *testing.T) {
	t.Parallel()
	const timeout = 100 * time.Millisecond
	var logs syncBuffer
	provider := &fakeProvider{FetchFunc: func(ctx context.Context, city string) (weather.Data, error) {
		if city == "London" {
			return sleepFor(time.Hour)(ctx, city)
		}
		return sleepFor(5 * time.Millisecond)(ctx, city)
	}}

	results, summary := FetchAll(context.Background(), defaultCities, provider, Options{
		Timeout: timeout,
		Limits:  ratelimit.Options{MaxInFlight: 3},
		Logger:  logging.NewConsoleLogger(&logs, "cityweather"),
	}, NullProgressReporter{}, io.Discard)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	london := results[2]
	if london.Succeeded() {
		t.Fatal("London should have timed out")
	}
	if london.Kind() != apperrors.KindTimeout {
		t.Errorf("London kind = %s, want timeout", london.Kind())
	}
	var te apperrors.TimeoutError
	if !errors.As(london.Err, &te) || te.Limit != timeout {
		t.Errorf("expected TimeoutError with limit %s, got %v", timeout, london.Err)
	}
	for _, r := range results[:2] {
		if !r.Succeeded() {
			t.Errorf("%s should succeed, got %v", r.City, r.Err)
		}
	}
	if summary.Total != 3 || summary.Failed != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Elapsed < timeout {
		t.Errorf("batch elapsed %s should be at least the timeout %s", summary.Elapsed, timeout)
	}

	lines := logs.lines()
	if countContaining(lines, " - ERROR - Timeout occurred while fetching weather for London") != 1 {
		t.Errorf("missing timeout line:\n%s", strings.Join(lines, "\n"))
	}
	if countContaining(lines, "Successfully fetched weather for ") != 2 {
		t.Errorf("expected 2 success lines:\n%s", strings.Join(lines, "\n"))
	}
	if !strings.Contains(lines[len(lines)-1], "Fetched weather for 3 cities in ") {
		t.Errorf("aggregate line should report 3 cities, got %q", lines[len(lines)-1])
	}
}

func TestFetchAll_ConcurrencyOneSerializes(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{FetchFunc: sleepFor(20 * time.Millisecond)}

	_, summary := FetchAll(context.Background(), defaultCities, provider, Options{
		Timeout: time.Second,
		Limits:  ratelimit.Options{MaxInFlight: 1},
	}, nil, io.Discard)

	calls := provider.recorded()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].start.Before(calls[i-1].end) {
			t.Errorf("%s started at %s before %s finished at %s",
				calls[i].city, calls[i].start.Format(time.StampMicro),
				calls[i-1].city, calls[i-1].end.Format(time.StampMicro))
		}
	}
	if summary.MaxInFlight != 1 {
		t.Errorf("max in flight = %d, want 1", summary.MaxInFlight)
	}
}

func TestFetchAll_RunsConcurrently(t *testing.T) {
	t.Parallel()
	const delay = 100 * time.Millisecond
	provider := &fakeProvider{FetchFunc: sleepFor(delay)}

	_, summary := FetchAll(context.Background(), defaultCities, provider, Options{
		Timeout: time.Second,
		Limits:  ratelimit.Options{MaxInFlight: 3},
	}, nil, io.Discard)

	if summary.Elapsed >= 3*delay {
		t.Errorf("batch took %s, expected overlapping requests", summary.Elapsed)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	t.Parallel()
	var logs syncBuffer
	results, summary := FetchAll(context.Background(), nil, &fakeProvider{}, Options{
		Logger: logging.NewConsoleLogger(&logs, "cityweather"),
	}, nil, io.Discard)

	if len(results) != 0 || summary.Total != 0 {
		t.Errorf("expected empty batch, got %d results, %+v", len(results), summary)
	}
	if countContaining(logs.lines(), "Fetched weather for 0 cities in ") != 1 {
		t.Error("empty batch should still log the aggregate line")
	}
}

func TestFetchAll_ProviderPanicIsContained(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{FetchFunc: func(ctx context.Context, city string) (weather.Data, error) {
		if city == "Mexico City" {
			panic("boom")
		}
		return weather.Data{City: city}, nil
	}}
	rec := &countingRecorder{}

	results, summary := FetchAll(context.Background(), defaultCities, provider, Options{Recorder: rec}, nil, io.Discard)

	if len(results) != 3 || summary.Failed != 1 {
		t.Fatalf("expected 3 results with 1 failure, got %d / %+v", len(results), summary)
	}
	if results[1].Succeeded() || !strings.Contains(results[1].Err.Error(), "provider panic: boom") {
		t.Errorf("unexpected Mexico City result %+v", results[1])
	}
	if rec.inFlight() != 0 {
		t.Errorf("recorder in-flight = %d after batch, want 0", rec.inFlight())
	}
}

func TestFetchAll_ParentCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{FetchFunc: sleepFor(time.Hour)}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	results, summary := FetchAll(ctx, defaultCities, provider, Options{
		Timeout: time.Hour,
		Limits:  ratelimit.Options{MaxInFlight: 1},
	}, nil, io.Discard)

	if len(results) != 3 || summary.Failed != 3 {
		t.Fatalf("expected 3 failed results, got %d / %+v", len(results), summary)
	}
	for _, r := range results {
		if k := r.Kind(); k != apperrors.KindCanceled {
			t.Errorf("%s kind = %s, want canceled", r.City, k)
		}
	}
}

func TestFetchAll_RecordsMetrics(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{FetchFunc: func(ctx context.Context, city string) (weather.Data, error) {
		if city == "London" {
			return weather.Data{}, apperrors.HTTPStatusError{StatusCode: 502}
		}
		return weather.Data{City: city}, nil
	}}
	rec := &countingRecorder{}

	FetchAll(context.Background(), defaultCities, provider, Options{Recorder: rec}, nil, io.Discard)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started != 3 || rec.finished["success/"] != 2 || rec.finished["failure/http_status"] != 1 || rec.batches != 1 {
		t.Errorf("unexpected recorder state: started=%d finished=%v batches=%d", rec.started, rec.finished, rec.batches)
	}
}

func TestFetchAll_ProgressOncePerCity(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[int]bool{}
	failed := 0
	reporter := ProgressReporterFunc(func(wg *sync.WaitGroup, ch <-chan ProgressUpdate, total int, _ io.Writer) {
		defer wg.Done()
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		for u := range ch {
			mu.Lock()
			if seen[u.Index] {
				t.Errorf("duplicate update for %s", u.City)
			}
			seen[u.Index] = true
			if u.Failed {
				failed++
			}
			mu.Unlock()
		}
	})
	provider := &fakeProvider{FetchFunc: func(ctx context.Context, city string) (weather.Data, error) {
		if city == "London" {
			return weather.Data{}, errors.New("connection reset")
		}
		return weather.Data{City: city}, nil
	}}

	FetchAll(context.Background(), defaultCities, provider, Options{}, reporter, io.Discard)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || failed != 1 {
		t.Errorf("seen=%v failed=%d", seen, failed)
	}
}

// countingRecorder is a Recorder that counts calls.
type countingRecorder struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
	batches  int
}

func (c *countingRecorder) FetchStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *countingRecorder) FetchFinished(status, kind string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished == nil {
		c.finished = map[string]int{}
	}
	c.finished[status+"/"+kind]++
}

func (c *countingRecorder) BatchFinished(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
}

func (c *countingRecorder) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := 0
	for _, n := range c.finished {
		done += n
	}
	return c.started - done
}

func TestAnalyzeResults(t *testing.T) {
	t.Parallel()
	timeout := &apperrors.FetchError{Kind: apperrors.KindTimeout, Cause: errors.New("t")}
	network := &apperrors.FetchError{Kind: apperrors.KindNetwork, Cause: errors.New("n")}
	ok := FetchResult{City: "A", Status: StatusSuccess}

	tests := []struct {
		name     string
		results  []FetchResult
		expected int
	}{
		{"empty", nil, apperrors.ExitSuccess},
		{"all success", []FetchResult{ok, ok}, apperrors.ExitSuccess},
		{"mixed", []FetchResult{ok, {City: "B", Status: StatusFailure, Err: network}}, apperrors.ExitSuccess},
		{"all timeouts", []FetchResult{{Status: StatusFailure, Err: timeout}, {Status: StatusFailure, Err: timeout}}, apperrors.ExitErrorTimeout},
		{"all failed mixed kinds", []FetchResult{{Status: StatusFailure, Err: timeout}, {Status: StatusFailure, Err: network}}, apperrors.ExitErrorGeneric},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := AnalyzeResults(tt.results); got != tt.expected {
				t.Errorf("AnalyzeResults() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	if StatusSuccess.String() != "success" || StatusFailure.String() != "failure" {
		t.Errorf("unexpected labels %q %q", StatusSuccess, StatusFailure)
	}
}

func TestFetchAll_SharedLimiterSpansBatches(t *testing.T) {
	t.Parallel()
	var (
		mu           sync.Mutex
		active, peak int
	)
	provider := &fakeProvider{FetchFunc: func(ctx context.Context, city string) (weather.Data, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return weather.Data{City: city}, nil
	}}
	shared := ratelimit.New(ratelimit.Options{MaxInFlight: 2})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			FetchAll(context.Background(), defaultCities, provider, Options{Limiter: shared}, nil, io.Discard)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("provider saw %d concurrent fetches across batches, shared cap is 2", peak)
	}
	if shared.Granted() != 4*len(defaultCities) {
		t.Errorf("shared limiter granted %d permits, want %d", shared.Granted(), 4*len(defaultCities))
	}
}

func TestFetchAll_PermitRefusedLogsError(t *testing.T) {
	t.Parallel()
	var logs syncBuffer
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results, _ := FetchAll(ctx, []string{"Oslo", "Lima"}, &fakeProvider{}, Options{
		Limits: ratelimit.Options{Requests: 1, Window: time.Hour},
		Logger: logging.NewConsoleLogger(&logs, "cityweather"),
	}, nil, io.Discard)

	refused := 0
	for _, r := range results {
		if !r.Succeeded() {
			refused++
			if r.Kind() != apperrors.KindRateLimit {
				t.Errorf("%s kind = %s, want rate_limit", r.City, r.Kind())
			}
		}
	}
	if refused != 1 {
		t.Fatalf("expected exactly one refused city, got %d", refused)
	}
	if countContaining(logs.lines(), " - ERROR - Failed to fetch weather for ") != 1 {
		t.Errorf("refused permit should be logged at error level:\n%s", strings.Join(logs.lines(), "\n"))
	}
}

func TestFetchAll_BatchDeadlineIsTimeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results, _ := FetchAll(ctx, []string{"Oslo"}, &fakeProvider{FetchFunc: sleepFor(time.Hour)}, Options{Timeout: time.Hour}, nil, io.Discard)
	if k := results[0].Kind(); k != apperrors.KindTimeout {
		t.Errorf("kind = %s, want timeout when the batch deadline expires", k)
	}
}
