package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
)

// DefaultOpenWeatherMapURL is the API root; the current-weather path is appended.
const DefaultOpenWeatherMapURL = "https://api.openweathermap.org"

const openWeatherMapPath = "/data/2.5/weather"

// owmResponse is the subset of the current-weather payload we read.
type owmResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

// OpenWeatherMap fetches from the OpenWeatherMap current-weather endpoint in
// metric units.
type OpenWeatherMap struct {
	client  httpDoer
	baseURL string
	apiKey  string
	now     func() time.Time
}

// NewOpenWeatherMap returns a provider for baseURL (DefaultOpenWeatherMapURL
// when empty).
func NewOpenWeatherMap(client httpDoer, baseURL, apiKey string) *OpenWeatherMap {
	if baseURL == "" {
		baseURL = DefaultOpenWeatherMapURL
	}
	return &OpenWeatherMap{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		now:     time.Now,
	}
}

// Name implements Provider.
func (o *OpenWeatherMap) Name() string { return ProviderOpenWeatherMap }

// Fetch implements Provider.
func (o *OpenWeatherMap) Fetch(ctx context.Context, city string) (Data, error) {
	u, err := url.Parse(o.baseURL + openWeatherMapPath)
	if err != nil {
		return Data{}, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", city)
	q.Set("appid", o.apiKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	body, err := get(ctx, o.client, u.String())
	if err != nil {
		return Data{}, err
	}
	return o.decode(body)
}

func (o *OpenWeatherMap) decode(body []byte) (Data, error) {
	var r owmResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Data{}, apperrors.ParseError{Cause: err}
	}
	if len(r.Weather) == 0 {
		return Data{}, apperrors.ParseError{Cause: errors.New("missing weather conditions")}
	}
	if r.Name == "" {
		return Data{}, apperrors.ParseError{Cause: errors.New("missing city name")}
	}
	return Data{
		City:        r.Name,
		Country:     r.Sys.Country,
		Temperature: r.Main.Temp,
		Description: r.Weather[0].Description,
		Humidity:    r.Main.Humidity,
		Pressure:    r.Main.Pressure,
		WindSpeed:   r.Wind.Speed,
		Timestamp:   o.now(),
	}, nil
}
