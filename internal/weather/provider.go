// Package weather holds the weather domain record and the upstream API
// providers that produce it.
package weather

//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
)

// Data is the current weather for one city, reduced to the fields the
// application reports.
type Data struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
	Humidity    int       `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	WindSpeed   float64   `json:"wind_speed"`
	Timestamp   time.Time `json:"timestamp"`
}

// Provider fetches current weather for a city. Implementations must honor
// ctx cancellation and must not retry.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (Data, error)
}

// Provider names accepted by NewProvider.
const (
	ProviderOpenWeatherMap = "openweathermap"
	ProviderWttrIn         = "wttrin"
)

// ProviderConfig carries what a provider needs to reach its API.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Client  *http.Client
}

var constructors = map[string]func(ProviderConfig) Provider{
	ProviderOpenWeatherMap: func(c ProviderConfig) Provider { return NewOpenWeatherMap(c.Client, c.BaseURL, c.APIKey) },
	ProviderWttrIn:         func(c ProviderConfig) Provider { return NewWttrIn(c.Client, c.BaseURL) },
}

// ProviderNames lists the registered provider names, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider builds the named provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	ctor, ok := constructors[strings.ToLower(cfg.Name)]
	if !ok {
		return nil, apperrors.NewConfigError("unknown provider %q (available: %s)", cfg.Name, strings.Join(ProviderNames(), ", "))
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return ctor(cfg), nil
}
