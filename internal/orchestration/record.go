package orchestration

import (
	"time"
)

// Record is the serialized form of a FetchResult used by the JSON outputs
// and the HTTP endpoint. Weather fields are omitted for failed cities.
type Record struct {
	City           string   `json:"city"`
	Status         string   `json:"status"`
	Country        string   `json:"country,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Description    string   `json:"description,omitempty"`
	Humidity       *int     `json:"humidity,omitempty"`
	Pressure       *float64 `json:"pressure,omitempty"`
	WindSpeed      *float64 `json:"wind_speed,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	Error          string   `json:"error,omitempty"`
	ErrorKind      string   `json:"error_kind,omitempty"`
}

// ToRecord converts a result for serialization.
func ToRecord(r FetchResult) Record {
	rec := Record{
		City:           r.City,
		Status:         r.Status.String(),
		ElapsedSeconds: r.Elapsed.Seconds(),
	}
	if r.Succeeded() && r.Data != nil {
		d := *r.Data
		rec.Country = d.Country
		rec.Temperature = &d.Temperature
		rec.Description = d.Description
		rec.Humidity = &d.Humidity
		rec.Pressure = &d.Pressure
		rec.WindSpeed = &d.WindSpeed
		if !d.Timestamp.IsZero() {
			rec.Timestamp = d.Timestamp.UTC().Format(time.RFC3339)
		}
		return rec
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		rec.ErrorKind = r.Kind().String()
	}
	return rec
}

// ToRecords converts results in order.
func ToRecords(results []FetchResult) []Record {
	out := make([]Record, len(results))
	for i, r := range results {
		out[i] = ToRecord(r)
	}
	return out
}

// Report is the JSON document describing a whole batch. Status is "success"
// whenever the batch ran; per-city failures are reported in Data.
type Report struct {
	Status         string   `json:"status"`
	RunID          string   `json:"run_id,omitempty"`
	Records        int      `json:"records"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	Data           []Record `json:"data"`
}

// NewReport builds the report for a finished batch.
func NewReport(results []FetchResult, summary Summary) Report {
	return Report{
		Status:         "success",
		RunID:          summary.RunID,
		Records:        len(results),
		Succeeded:      summary.Succeeded,
		Failed:         summary.Failed,
		ElapsedSeconds: summary.Elapsed.Seconds(),
		Data:           ToRecords(results),
	}
}
