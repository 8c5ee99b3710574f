package orchestration

import (
	"errors"
	"io"
	"sync"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/weather"
)

// Status is the terminal state of one city's fetch.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// FetchResult is the outcome of one city's weather request.
type FetchResult struct {
	// City is the name as requested, not as returned by the API.
	City   string
	Status Status
	// Data is nil on failure.
	Data *weather.Data
	// Elapsed covers permit wait and the request itself.
	Elapsed time.Duration
	// Err is an *apperrors.FetchError on failure.
	Err error
}

// Succeeded reports whether the fetch produced data.
func (r FetchResult) Succeeded() bool { return r.Status == StatusSuccess }

// Kind returns the failure class, KindUnknown on success.
func (r FetchResult) Kind() apperrors.Kind {
	var fe *apperrors.FetchError
	if errors.As(r.Err, &fe) {
		return fe.Kind
	}
	return apperrors.Classify(r.Err)
}

// Summary aggregates a batch.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	// MaxInFlight is the highest number of requests observed in flight at
	// once by the limiter, which spans every batch when it is shared.
	MaxInFlight int
}

// ProgressUpdate is sent once per city when its fetch reaches a terminal state.
type ProgressUpdate struct {
	Index  int
	City   string
	Failed bool
}

// ProgressReporter defines the interface for displaying batch progress.
// DisplayProgress runs in its own goroutine until progressChan is closed
// and must call wg.Done when it returns.
type ProgressReporter interface {
	DisplayProgress(wg *sync.WaitGroup, progressChan <-chan ProgressUpdate, total int, out io.Writer)
}

// ProgressReporterFunc is a function adapter that implements ProgressReporter.
type ProgressReporterFunc func(wg *sync.WaitGroup, progressChan <-chan ProgressUpdate, total int, out io.Writer)

// DisplayProgress calls the underlying function.
func (f ProgressReporterFunc) DisplayProgress(wg *sync.WaitGroup, progressChan <-chan ProgressUpdate, total int, out io.Writer) {
	f(wg, progressChan, total, out)
}

// NullProgressReporter drains the progress channel without displaying anything.
type NullProgressReporter struct{}

// DisplayProgress drains the channel without output.
func (NullProgressReporter) DisplayProgress(wg *sync.WaitGroup, progressChan <-chan ProgressUpdate, _ int, _ io.Writer) {
	defer wg.Done()
	for range progressChan {
	}
}

// ResultPresenter renders a finished batch.
type ResultPresenter interface {
	PresentResults(results []FetchResult, summary Summary, out io.Writer) error
}

// Recorder receives fetch and batch measurements. *metrics.Metrics implements it.
type Recorder interface {
	FetchStarted()
	FetchFinished(status, kind string, d time.Duration)
	BatchFinished(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) FetchStarted()                                {}
func (nopRecorder) FetchFinished(string, string, time.Duration) {}
func (nopRecorder) BatchFinished(time.Duration)                 {}
