// Package config parses and validates the cityweather runtime configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/logging"
	"github.com/agbru/cityweather/internal/ratelimit"
	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "CITYWEATHER_"

// APIKeyEnv is the unprefixed variable the key is also read from.
const APIKeyEnv = "OPENWEATHER_API_KEY"

// Output modes for the -output flag.
const (
	OutputNone  = "none"
	OutputTable = "table"
	OutputJSON  = "json"
)

// Defaults.
const (
	DefaultProvider     = "openweathermap"
	DefaultConcurrency  = 5
	DefaultTimeout      = 10 * time.Second
	DefaultAddr         = "localhost:8080"
	DefaultEnvFile      = ".env"
	DefaultLogLevel     = "info"
	DefaultOutputFormat = OutputTable
)

// DefaultCities is used when no city is given on the command line or in the
// environment.
var DefaultCities = []string{"Mexico City", "San Francisco", "London"}

// AppConfig aggregates the application's configuration parameters.
type AppConfig struct {
	Cities       []string
	Provider     string
	BaseURL      string
	APIKey       string
	Concurrency  int
	RateRequests int
	RateWindow   time.Duration
	Timeout      time.Duration
	LogLevel     string
	LogFormat    string
	LogFile      string
	Output       string
	OutputFile   string
	EnvFile      string
	Addr         string
	Quiet        bool
	Serve        bool
	NoColor      bool
}

// LimiterOptions returns the rate limiter settings described by the config.
func (c AppConfig) LimiterOptions() ratelimit.Options {
	return ratelimit.Options{
		MaxInFlight: c.Concurrency,
		Requests:    c.RateRequests,
		Window:      c.RateWindow,
	}
}

// Validate checks the semantic validity of the configuration.
func (c AppConfig) Validate(availableProviders []string) error {
	if len(c.Cities) == 0 {
		return apperrors.NewConfigError("no cities given")
	}
	if !slices.Contains(availableProviders, c.Provider) {
		return apperrors.NewConfigError("unknown provider %q, available: %s",
			c.Provider, strings.Join(availableProviders, ", "))
	}
	if c.Provider == DefaultProvider && c.APIKey == "" {
		return apperrors.NewConfigError("missing API key: set -api-key, %sAPI_KEY or %s", EnvPrefix, APIKeyEnv)
	}
	if c.Concurrency < 1 {
		return invalidField("concurrency", "must be at least 1, got %d", c.Concurrency)
	}
	if c.RateRequests < 0 {
		return invalidField("rate-requests", "must not be negative, got %d", c.RateRequests)
	}
	if c.RateRequests > 0 && c.RateWindow <= 0 {
		return invalidField("rate-window", "must be positive when rate-requests is set")
	}
	if c.Timeout <= 0 {
		return invalidField("timeout", "must be positive, got %s", c.Timeout)
	}
	if _, ok := logging.LookupLevel(c.LogLevel); !ok {
		return apperrors.NewConfigError("unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return apperrors.NewConfigError("unknown log format %q, use %s or %s", c.LogFormat, logging.FormatText, logging.FormatJSON)
	}
	switch c.Output {
	case OutputNone, OutputTable, OutputJSON:
	default:
		return apperrors.NewConfigError("unknown output %q, use %s, %s or %s", c.Output, OutputNone, OutputTable, OutputJSON)
	}
	return nil
}

// invalidField reports a bad flag value as a configuration error.
func invalidField(field, format string, args ...any) error {
	return apperrors.ConfigError{Message: apperrors.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}.Error()}
}

// ParseConfig parses the command-line arguments, loads the .env file and
// applies environment overrides. Flags win over CITYWEATHER_* variables,
// which win over the .env file, which wins over the defaults.
//
// It returns flag.ErrHelp when -h or -help was given.
func ParseConfig(programName string, args []string, errorWriter io.Writer, availableProviders []string) (AppConfig, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errorWriter)
	fs.Usage = func() {
		fmt.Fprintf(errorWriter, "Usage: %s [flags] [city ...]\n\n", programName)
		fmt.Fprintf(errorWriter, "Fetches current weather for several cities concurrently.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	config := AppConfig{}
	var cities string
	fs.StringVar(&cities, "cities", "", "Comma-separated list of cities.")
	fs.StringVar(&config.Provider, "provider", DefaultProvider, fmt.Sprintf("Weather provider (%s).", strings.Join(availableProviders, ", ")))
	fs.StringVar(&config.BaseURL, "base-url", "", "Override the provider's API base URL.")
	fs.StringVar(&config.APIKey, "api-key", "", "API key for providers that need one.")
	fs.IntVar(&config.Concurrency, "concurrency", DefaultConcurrency, "Maximum number of requests in flight.")
	fs.IntVar(&config.RateRequests, "rate-requests", ratelimit.DefaultRequests, "Requests allowed per rate window (0 disables).")
	fs.DurationVar(&config.RateWindow, "rate-window", ratelimit.DefaultWindow, "Length of the rate window.")
	fs.DurationVar(&config.Timeout, "timeout", DefaultTimeout, "Timeout for each weather request.")
	fs.StringVar(&config.LogLevel, "log-level", DefaultLogLevel, "Log level (debug, info, warn, error).")
	fs.StringVar(&config.LogFormat, "log-format", logging.FormatText, "Log format (text, json).")
	fs.StringVar(&config.LogFile, "log-file", "", "Also append log lines to this file.")
	fs.StringVar(&config.Output, "output", DefaultOutputFormat, "Result output on stdout (none, table, json).")
	fs.StringVar(&config.OutputFile, "o", "", "Write JSON results to this file.")
	fs.StringVar(&config.EnvFile, "env-file", DefaultEnvFile, "Dotenv file to load before reading the environment.")
	fs.StringVar(&config.Addr, "addr", DefaultAddr, "Listen address in serve mode.")
	fs.BoolVar(&config.Quiet, "quiet", false, "Suppress progress and result output.")
	fs.BoolVar(&config.Quiet, "q", false, "Shorthand for -quiet.")
	fs.BoolVar(&config.Serve, "serve", false, "Serve results over HTTP instead of fetching once.")
	fs.BoolVar(&config.NoColor, "no-color", false, "Disable colored output.")
	// Consumed by the entrypoint; declared so it shows in -h.
	fs.Bool("version", false, "Print version information and exit.")

	if err := fs.Parse(args); err != nil {
		return AppConfig{}, err
	}

	if err := loadEnvFile(config.EnvFile, isFlagSet(fs, "env-file")); err != nil {
		fmt.Fprintln(errorWriter, err)
		return AppConfig{}, err
	}
	applyEnvOverrides(&config, fs)
	if !isFlagSet(fs, "cities") {
		if val := os.Getenv(EnvPrefix + "CITIES"); val != "" {
			cities = val
		}
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv(APIKeyEnv)
	}

	config.Cities = resolveCities(cities, fs.Args())
	if err := config.Validate(availableProviders); err != nil {
		fmt.Fprintln(errorWriter, err)
		return AppConfig{}, err
	}
	return config, nil
}

// loadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing default file is fine;
// a missing file that was asked for explicitly is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return apperrors.NewConfigError("loading %s: %v", path, err)
	}
	return nil
}

// resolveCities picks the city list: positional arguments first, then the
// comma-separated value, then the defaults.
func resolveCities(list string, positional []string) []string {
	var out []string
	for _, c := range positional {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	out = SplitCities(list)
	if len(out) > 0 {
		return out
	}
	return slices.Clone(DefaultCities)
}

// SplitCities splits a comma-separated list, trimming blanks and dropping
// empty entries.
func SplitCities(list string) []string {
	var out []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
