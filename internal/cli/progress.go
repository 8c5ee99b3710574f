//go:generate mockgen -source=progress.go -destination=mocks/mock_spinner.go -package=mocks

package cli

import (
	"io"
	"sync"
	"time"

	"github.com/agbru/cityweather/internal/format"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/briandowns/spinner"
)

const (
	// ProgressRefreshRate defines how often the spinner suffix is redrawn so the
	// ETA keeps moving between completions.
	ProgressRefreshRate = 200 * time.Millisecond
	// ProgressBarWidth defines the width in characters of the progress bar.
	ProgressBarWidth = 30
)

// Spinner abstracts the terminal spinner so DisplayProgress can be tested
// without a terminal.
type Spinner interface {
	// Start begins the spinner animation.
	Start()
	// Stop halts the spinner animation.
	Stop()
	// UpdateSuffix sets the text that is displayed after the spinner.
	UpdateSuffix(suffix string)
}

// realSpinner adapts spinner.Spinner to the Spinner interface.
type realSpinner struct {
	s *spinner.Spinner
}

func (rs *realSpinner) Start() { rs.s.Start() }

func (rs *realSpinner) Stop() { rs.s.Stop() }

// UpdateSuffix takes the spinner's lock since its render loop reads Suffix.
func (rs *realSpinner) UpdateSuffix(suffix string) {
	rs.s.Lock()
	rs.s.Suffix = suffix
	rs.s.Unlock()
}

var newSpinner = func(options ...spinner.Option) Spinner {
	s := spinner.New(spinner.CharSets[11], ProgressRefreshRate, options...)
	return &realSpinner{s}
}

// CLIProgressReporter implements orchestration.ProgressReporter with a
// spinner, a completion bar and an ETA.
type CLIProgressReporter struct{}

var _ orchestration.ProgressReporter = CLIProgressReporter{}

// DisplayProgress displays a spinner and progress bar for the running batch.
func (CLIProgressReporter) DisplayProgress(wg *sync.WaitGroup, progressChan <-chan orchestration.ProgressUpdate, total int, out io.Writer) {
	DisplayProgress(wg, progressChan, total, out)
}

// DisplayProgress consumes progress updates until the channel is closed,
// redrawing the spinner suffix on every update and every refresh tick.
// It calls wg.Done when it returns.
func DisplayProgress(wg *sync.WaitGroup, progressChan <-chan orchestration.ProgressUpdate, total int, out io.Writer) {
	defer wg.Done()
	if total <= 0 {
		for range progressChan {
		}
		return
	}

	state := format.NewProgress(total)
	s := newSpinner(spinner.WithWriter(out), spinner.WithHiddenCursor(true))
	s.UpdateSuffix(state.FormatProgressLine(ProgressBarWidth))
	s.Start()
	defer s.Stop()

	ticker := time.NewTicker(ProgressRefreshRate)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-progressChan:
			if !ok {
				return
			}
			state.Complete(update.Failed)
			s.UpdateSuffix(state.FormatProgressLine(ProgressBarWidth))
		case <-ticker.C:
			s.UpdateSuffix(state.FormatProgressLine(ProgressBarWidth))
		}
	}
}
