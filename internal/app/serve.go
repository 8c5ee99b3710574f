package app

import (
	"context"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/metrics"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/agbru/cityweather/internal/server"
	"github.com/agbru/cityweather/internal/weather"
)

// runServe serves batches over HTTP until ctx is canceled.
func (a *Application) runServe(ctx context.Context, provider weather.Provider, logger logging.Logger) int {
	srv := server.New(server.Config{
		Addr:   a.Config.Addr,
		Cities: a.Config.Cities,
		Fetch: orchestration.Options{
			Timeout: a.Config.Timeout,
			Limits:  a.Config.LimiterOptions(),
		},
		Security: server.DefaultSecurityConfig(),
	}, provider, metrics.New(), logger)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("Server failed", err)
		return apperrors.ExitErrorGeneric
	}
	return apperrors.ExitSuccess
}
