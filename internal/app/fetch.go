package app

import (
	"context"
	"io"

	"github.com/agbru/cityweather/internal/cli"
	"github.com/agbru/cityweather/internal/config"
	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/agbru/cityweather/internal/weather"
)

// runFetch fetches the configured cities once, renders the results and maps
// the outcome to an exit code.
func (a *Application) runFetch(ctx context.Context, provider weather.Provider, logger logging.Logger, out io.Writer) int {
	var progressReporter orchestration.ProgressReporter = orchestration.NullProgressReporter{}
	presenter := cli.NewPresenter(a.Config.Output)
	if a.Config.Quiet {
		presenter = cli.NullPresenter{}
	} else if a.Config.Output == config.OutputTable {
		progressReporter = cli.CLIProgressReporter{}
	}

	logger.Debug("Starting batch",
		logging.String("provider", provider.Name()),
		logging.Int("cities", len(a.Config.Cities)),
		logging.Int("concurrency", a.Config.Concurrency),
		logging.Duration("timeout", a.Config.Timeout),
	)

	opts := orchestration.Options{
		Timeout: a.Config.Timeout,
		Limits:  a.Config.LimiterOptions(),
		Logger:  logger,
	}
	results, summary := orchestration.FetchAll(ctx, a.Config.Cities, provider, opts, progressReporter, out)

	if err := presenter.PresentResults(results, summary, out); err != nil {
		logger.Error("Error writing results", err)
		return apperrors.ExitErrorGeneric
	}
	if err := cli.WriteResultsToFile(a.Config.OutputFile, results, summary); err != nil {
		logger.Error("Error saving results", err, logging.String("path", a.Config.OutputFile))
		return apperrors.ExitErrorGeneric
	}
	if a.Config.OutputFile != "" {
		logger.Debug("Results saved", logging.String("path", a.Config.OutputFile))
	}

	if apperrors.IsContextError(ctx.Err()) {
		return apperrors.ExitErrorCanceled
	}
	return orchestration.AnalyzeResults(results)
}
