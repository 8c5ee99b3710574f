package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/agbru/cityweather/internal/ratelimit"
	"github.com/agbru/cityweather/internal/weather"
)

// stubProvider answers instantly; "Atlantis" is not found.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Fetch(_ context.Context, city string) (weather.Data, error) {
	if city == "Atlantis" {
		return weather.Data{}, apperrors.HTTPStatusError{StatusCode: http.StatusNotFound, Body: "city not found"}
	}
	return weather.Data{City: city, Country: "XX", Temperature: 21.5, Description: "clear sky", Humidity: 40}, nil
}

func newTestServer(cities ...string) *Server {
	return New(Config{Cities: cities}, stubProvider{}, nil, nil)
}

func decodeReport(t *testing.T, body io.Reader) orchestration.Report {
	t.Helper()
	var rep orchestration.Report
	if err := json.NewDecoder(body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return rep
}

func TestHandleWeather_ConfiguredCities(t *testing.T) {
	t.Parallel()
	s := newTestServer("Mexico City", "Atlantis", "London")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	rep := decodeReport(t, rec.Body)
	if rep.Status != "success" || rep.Records != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Data[0].City != "Mexico City" || rep.Data[2].City != "London" {
		t.Errorf("records out of input order: %+v", rep.Data)
	}
	failed := rep.Data[1]
	if failed.Status != "failure" || failed.ErrorKind != "http_status" || !strings.Contains(failed.Error, "404") {
		t.Errorf("failed record = %+v", failed)
	}
	if rep.Succeeded != 2 || rep.Failed != 1 {
		t.Errorf("counts = %d/%d", rep.Succeeded, rep.Failed)
	}
}

func TestHandleWeather_QueryOverride(t *testing.T) {
	t.Parallel()
	s := newTestServer("London")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/?cities=Oslo,%20Lima", http.NoBody))

	rep := decodeReport(t, rec.Body)
	if rep.Records != 2 || rep.Data[0].City != "Oslo" || rep.Data[1].City != "Lima" {
		t.Errorf("report data = %+v", rep.Data)
	}
}

func TestHandleWeather_Errors(t *testing.T) {
	t.Parallel()
	tooMany := make([]string, DefaultSecurityConfig().MaxCities+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("c%d", i)
	}

	tests := []struct {
		name     string
		server   *Server
		method   string
		target   string
		wantCode int
	}{
		{"POST", newTestServer("London"), "POST", "/", http.StatusMethodNotAllowed},
		{"unknown path", newTestServer("London"), "GET", "/nope", http.StatusNotFound},
		{"no cities", newTestServer(), "GET", "/", http.StatusBadRequest},
		{"too many", newTestServer("London"), "GET", "/?cities=" + strings.Join(tooMany, ","), http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.server.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, http.NoBody))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Status != "error" || body.Message == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", http.NoBody))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied to every route")
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Config{Cities: []string{"London"}, ShutdownTimeout: time.Second}, stubProvider{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestListenAndServe_BadAddr(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "256.0.0.1:bad"}, stubProvider{}, nil, nil)
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Error("expected a listen error")
	}
}

// gaugeProvider records the peak number of concurrent fetches.
type gaugeProvider struct {
	mu           sync.Mutex
	active, peak int
	calls        int
}

func (*gaugeProvider) Name() string { return "gauge" }

func (g *gaugeProvider) Fetch(_ context.Context, city string) (weather.Data, error) {
	g.mu.Lock()
	g.active++
	g.calls++
	g.peak = max(g.peak, g.active)
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return weather.Data{City: city}, nil
}

func TestHandleWeather_LimiterSharedAcrossRequests(t *testing.T) {
	t.Parallel()
	provider := &gaugeProvider{}
	s := New(Config{
		Cities: []string{"Oslo", "Lima"},
		Fetch:  orchestration.Options{Limits: ratelimit.Options{MaxInFlight: 1}},
	}, provider, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	const clients = 5
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/")
			if err != nil {
				t.Errorf("GET /: %v", err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.calls != 2*clients {
		t.Errorf("provider calls = %d, want %d", provider.calls, 2*clients)
	}
	if provider.peak != 1 {
		t.Errorf("upstream saw %d concurrent fetches across requests, cap is 1", provider.peak)
	}
}

func TestHandleWeather_BatchDeadlineStillReports(t *testing.T) {
	t.Parallel()
	s := New(Config{
		Cities:       []string{"Oslo", "Lima", "Quito"},
		WriteTimeout: 2 * time.Second,
		BatchTimeout: 150 * time.Millisecond,
		Fetch:        orchestration.Options{Limits: ratelimit.Options{Requests: 1, Window: time.Hour}},
	}, stubProvider{}, nil, nil)

	start := time.Now()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %s, want it bounded by the batch timeout", elapsed)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a report", rec.Code)
	}
	rep := decodeReport(t, rec.Body)
	if rep.Records != 3 || rep.Succeeded != 1 || rep.Failed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	for _, r := range rep.Data {
		if r.Status == "failure" && r.ErrorKind != "rate_limit" {
			t.Errorf("%s error_kind = %q, want rate_limit", r.City, r.ErrorKind)
		}
	}
}
