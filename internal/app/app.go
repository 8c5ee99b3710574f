// Package app wires configuration, logging, the weather provider and the
// orchestrator into the cityweather command.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agbru/cityweather/internal/config"
	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/ui"
	"github.com/agbru/cityweather/internal/weather"
)

// LoggerName appears in every text log line.
const LoggerName = "cityweather"

// Application represents the cityweather application instance.
type Application struct {
	Config    config.AppConfig
	ErrWriter io.Writer

	client   *http.Client
	provider weather.Provider
}

// AppOption configures an Application during construction.
type AppOption func(*Application)

// WithProvider replaces the provider named in the configuration.
func WithProvider(p weather.Provider) AppOption {
	return func(a *Application) { a.provider = p }
}

// WithHTTPClient sets the client used by the configured provider.
func WithHTTPClient(c *http.Client) AppOption {
	return func(a *Application) { a.client = c }
}

// New creates a new Application instance by parsing command-line arguments.
func New(args []string, errWriter io.Writer, opts ...AppOption) (*Application, error) {
	app := &Application{ErrWriter: errWriter}
	for _, opt := range opts {
		opt(app)
	}

	programName := "cityweather"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}

	cfg, err := config.ParseConfig(programName, cmdArgs, errWriter, weather.ProviderNames())
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	return app, nil
}

// Run executes the application in fetch or serve mode and returns the
// process exit code.
func (a *Application) Run(ctx context.Context, out io.Writer) int {
	ui.InitTheme(a.Config.NoColor)

	logger, closeLog, err := a.newLogger()
	if err != nil {
		fmt.Fprintf(a.ErrWriter, "Error: %v\n", err)
		return apperrors.ExitErrorConfig
	}
	defer closeLog()

	provider, err := a.newProvider()
	if err != nil {
		logger.Error("Invalid provider configuration", err)
		return apperrors.ExitErrorConfig
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if a.Config.Serve {
		return a.runServe(ctx, provider, logger)
	}
	return a.runFetch(ctx, provider, logger, out)
}

// newLogger builds the logger on ErrWriter, teeing to the log file when one
// is configured. The returned func closes the file.
func (a *Application) newLogger() (logging.Logger, func(), error) {
	opts := logging.Options{
		Name:   LoggerName,
		Format: a.Config.LogFormat,
		Level:  a.Config.LogLevel,
		Out:    a.ErrWriter,
	}
	closeLog := func() {}
	if a.Config.LogFile != "" {
		f, err := os.OpenFile(a.Config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, apperrors.NewConfigError("opening log file: %v", err)
		}
		opts.Tee = append(opts.Tee, f)
		closeLog = func() { _ = f.Close() }
	}
	return logging.New(opts), closeLog, nil
}

// newProvider returns the injected provider or builds the configured one.
func (a *Application) newProvider() (weather.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	client := a.client
	if client == nil {
		client = newHTTPClient(a.Config.Concurrency)
	}
	return weather.NewProvider(weather.ProviderConfig{
		Name:    a.Config.Provider,
		BaseURL: a.Config.BaseURL,
		APIKey:  a.Config.APIKey,
		Client:  client,
	})
}

// newHTTPClient returns a client with no overall timeout; each request is
// bounded by its context. Idle connections per host match the concurrency.
func newHTTPClient(concurrency int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if concurrency > transport.MaxIdleConnsPerHost {
		transport.MaxIdleConnsPerHost = concurrency
	}
	return &http.Client{Transport: transport}
}

// IsHelpError checks if the error is a help flag error (-h was used).
func IsHelpError(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// ExitCodeFor maps an error from New to a process exit code. Every parse or
// validation failure is a configuration error.
func ExitCodeFor(err error) int {
	if err == nil || IsHelpError(err) {
		return apperrors.ExitSuccess
	}
	return apperrors.ExitErrorConfig
}
