package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agbru/cityweather/internal/errors"
)

// DefaultWttrInURL is the wttr.in service root.
const DefaultWttrInURL = "https://wttr.in"

const kphToMps = 1 / 3.6

// wttrResponse is the subset of wttr.in's j1 JSON format we read. wttr.in
// encodes every number as a string.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC         string `json:"temp_C"`
		Humidity      string `json:"humidity"`
		Pressure      string `json:"pressure"`
		WindspeedKmph string `json:"windspeedKmph"`
		WeatherDesc   []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []struct {
			Value string `json:"value"`
		} `json:"areaName"`
		Country []struct {
			Value string `json:"value"`
		} `json:"country"`
	} `json:"nearest_area"`
}

// WttrIn fetches from wttr.in. It needs no API key.
type WttrIn struct {
	client  httpDoer
	baseURL string
	now     func() time.Time
}

// NewWttrIn returns a provider for baseURL (DefaultWttrInURL when empty).
func NewWttrIn(client httpDoer, baseURL string) *WttrIn {
	if baseURL == "" {
		baseURL = DefaultWttrInURL
	}
	return &WttrIn{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Name implements Provider.
func (w *WttrIn) Name() string { return ProviderWttrIn }

// Fetch implements Provider.
func (w *WttrIn) Fetch(ctx context.Context, city string) (Data, error) {
	u := w.baseURL + "/" + url.PathEscape(city) + "?format=j1"
	body, err := get(ctx, w.client, u)
	if err != nil {
		return Data{}, err
	}
	return w.decode(city, body)
}

func (w *WttrIn) decode(city string, body []byte) (Data, error) {
	var r wttrResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Data{}, apperrors.ParseError{Cause: err}
	}
	if len(r.CurrentCondition) == 0 {
		return Data{}, apperrors.ParseError{Cause: errors.New("missing current_condition")}
	}
	cc := r.CurrentCondition[0]

	var p numParser
	d := Data{
		City:        city,
		Temperature: p.float("temp_C", cc.TempC),
		Humidity:    int(p.float("humidity", cc.Humidity)),
		Pressure:    p.float("pressure", cc.Pressure),
		WindSpeed:   p.float("windspeedKmph", cc.WindspeedKmph) * kphToMps,
		Timestamp:   w.now(),
	}
	if p.err != nil {
		return Data{}, apperrors.ParseError{Cause: p.err}
	}
	if len(cc.WeatherDesc) > 0 {
		d.Description = cc.WeatherDesc[0].Value
	}
	if len(r.NearestArea) > 0 {
		area := r.NearestArea[0]
		if len(area.AreaName) > 0 && area.AreaName[0].Value != "" {
			d.City = area.AreaName[0].Value
		}
		if len(area.Country) > 0 {
			d.Country = area.Country[0].Value
		}
	}
	return d, nil
}

// numParser keeps the first conversion error.
type numParser struct {
	err error
}

func (p *numParser) float(field, s string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return v
}
