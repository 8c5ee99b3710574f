package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/format"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/metrics"
	"github.com/agbru/cityweather/internal/ratelimit"
	"github.com/agbru/cityweather/internal/weather"
)

const tracerName = "github.com/agbru/cityweather/internal/orchestration"

// DefaultTimeout is the per-request limit when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options configures one batch.
type Options struct {
	// Timeout bounds each city's request, not the permit wait before it.
	Timeout time.Duration
	// Limiter, when set, is shared with other batches. Otherwise a fresh
	// one is built from Limits for this call.
	Limiter  *ratelimit.Limiter
	Limits   ratelimit.Options
	Logger   logging.Logger
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// FetchAll fetches weather for every city concurrently and returns one
// result per city, in input order, plus the batch summary.
//
// Each city waits for a rate-limit permit, then gets its own timeout. A
// failing city is logged and recorded but never cancels its siblings. The
// aggregate line is logged only after every city reached a terminal state.
func FetchAll(ctx context.Context, cities []string, provider weather.Provider, opts Options, progressReporter ProgressReporter, out io.Writer) ([]FetchResult, Summary) {
	opts = opts.withDefaults()
	if progressReporter == nil {
		progressReporter = NullProgressReporter{}
	}
	start := time.Now()
	runID := uuid.NewString()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "weather.fetch_all", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("cities", len(cities)),
		attribute.String("provider", provider.Name()),
	))
	defer span.End()

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(opts.Limits)
	}
	results := make([]FetchResult, len(cities))
	progressChan := make(chan ProgressUpdate, len(cities))

	var displayWg sync.WaitGroup
	displayWg.Add(1)
	go progressReporter.DisplayProgress(&displayWg, progressChan, len(cities), out)

	g, gctx := errgroup.WithContext(ctx)
	for i, city := range cities {
		idx, city := i, city
		g.Go(func() error {
			results[idx] = fetchCity(gctx, city, provider, limiter, opts)
			progressChan <- ProgressUpdate{Index: idx, City: city, Failed: !results[idx].Succeeded()}
			return nil
		})
	}

	_ = g.Wait()
	close(progressChan)
	displayWg.Wait()

	summary := Summary{
		RunID:       runID,
		Total:       len(cities),
		Elapsed:     time.Since(start),
		MaxInFlight: limiter.MaxObserved(),
	}
	for _, r := range results {
		if r.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	opts.Recorder.BatchFinished(summary.Elapsed)
	span.SetAttributes(attribute.Int("succeeded", summary.Succeeded), attribute.Int("failed", summary.Failed))
	opts.Logger.Info(fmt.Sprintf("Fetched weather for %d cities in %ss", summary.Total, format.Seconds(summary.Elapsed)))
	opts.Logger.Debug("batch complete",
		logging.String("run_id", runID),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("max_in_flight", summary.MaxInFlight),
		logging.Float64("elapsed_seconds", summary.Elapsed.Seconds()),
	)
	return results, summary
}

// fetchCity performs one city's fetch. It always returns a terminal result,
// including when the provider panics.
func fetchCity(ctx context.Context, city string, provider weather.Provider, limiter *ratelimit.Limiter, opts Options) (res FetchResult) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "weather.fetch", trace.WithAttributes(attribute.String("city", city)))
	defer span.End()

	started := false
	defer func() {
		if r := recover(); r != nil {
			res = failure(city, &apperrors.FetchError{City: city, Kind: apperrors.KindUnknown, Cause: fmt.Errorf("provider panic: %v", r)}, time.Since(start))
			if started {
				opts.Recorder.FetchFinished(metrics.StatusFailure, apperrors.KindUnknown.String(), res.Elapsed)
			}
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		logResult(opts.Logger, res)
	}()

	release, err := limiter.Acquire(ctx)
	if err != nil {
		kind := apperrors.KindRateLimit
		if errors.Is(err, context.Canceled) {
			kind = apperrors.KindCanceled
		}
		return failure(city, &apperrors.FetchError{City: city, Kind: kind, Cause: err}, time.Since(start))
	}
	defer release()

	opts.Recorder.FetchStarted()
	started = true
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	data, err := provider.Fetch(reqCtx, city)
	elapsed := time.Since(start)
	if err != nil {
		fe := classify(ctx, reqCtx, city, err, opts.Timeout)
		opts.Recorder.FetchFinished(metrics.StatusFailure, fe.Kind.String(), elapsed)
		return failure(city, fe, elapsed)
	}

	opts.Recorder.FetchFinished(metrics.StatusSuccess, "", elapsed)
	return FetchResult{City: city, Status: StatusSuccess, Data: &data, Elapsed: elapsed}
}

// classify turns a provider error into a FetchError. A canceled parent wins
// over the request deadline; an expired deadline, the request's own or the
// batch's, is a timeout.
func classify(parent, reqCtx context.Context, city string, err error, limit time.Duration) *apperrors.FetchError {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return &apperrors.FetchError{City: city, Kind: apperrors.KindCanceled, Cause: err}
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return &apperrors.FetchError{City: city, Kind: apperrors.KindTimeout, Cause: apperrors.TimeoutError{Operation: "weather request", Limit: limit}}
	}
	return apperrors.NewFetchError(city, err)
}

func failure(city string, err *apperrors.FetchError, elapsed time.Duration) FetchResult {
	return FetchResult{City: city, Status: StatusFailure, Elapsed: elapsed, Err: err}
}

func logResult(logger logging.Logger, res FetchResult) {
	if res.Succeeded() {
		logger.Info(fmt.Sprintf("Successfully fetched weather for %s in %ss", res.City, format.Seconds(res.Elapsed)))
		return
	}

	kind := res.Kind()
	fields := []logging.Field{logging.String("city", res.City), logging.String("kind", kind.String())}
	switch kind {
	case apperrors.KindTimeout:
		logger.Error(fmt.Sprintf("Timeout occurred while fetching weather for %s", res.City), res.Err, fields...)
	default:
		logger.Error(fmt.Sprintf("Failed to fetch weather for %s: %v", res.City, res.Err), res.Err, fields...)
	}
}

// AnalyzeResults maps a finished batch to an exit code: success when at least
// one city was fetched (or there were none), a timeout code when every
// failure was a timeout, a generic failure otherwise.
func AnalyzeResults(results []FetchResult) int {
	if len(results) == 0 {
		return apperrors.ExitSuccess
	}
	allTimeouts := true
	for _, r := range results {
		if r.Succeeded() {
			return apperrors.ExitSuccess
		}
		if r.Kind() != apperrors.KindTimeout {
			allTimeouts = false
		}
	}
	if allTimeouts {
		return apperrors.ExitErrorTimeout
	}
	return apperrors.ExitErrorGeneric
}
