package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/agbru/cityweather/internal/format"
	"github.com/agbru/cityweather/internal/orchestration"
	"github.com/agbru/cityweather/internal/ui"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// MaxErrorWidth bounds the failure description shown in a table cell.
const MaxErrorWidth = 48

var tableHeaders = []string{"City", "Status", "Temp (°C)", "Conditions", "Humidity", "Wind (m/s)", "Time"}

// TablePresenter renders a batch as a styled table followed by a one-line
// summary.
type TablePresenter struct{}

// JSONPresenter renders a batch as an indented orchestration.Report.
type JSONPresenter struct{}

// NullPresenter renders nothing.
type NullPresenter struct{}

var (
	_ orchestration.ResultPresenter = TablePresenter{}
	_ orchestration.ResultPresenter = JSONPresenter{}
	_ orchestration.ResultPresenter = NullPresenter{}
)

// NewPresenter returns the presenter for an output mode ("table", "json",
// "none"). Unknown modes render nothing.
func NewPresenter(mode string) orchestration.ResultPresenter {
	switch mode {
	case "table":
		return TablePresenter{}
	case "json":
		return JSONPresenter{}
	default:
		return NullPresenter{}
	}
}

// PresentResults writes the results table and the batch summary.
func (TablePresenter) PresentResults(results []orchestration.FetchResult, summary orchestration.Summary, out io.Writer) error {
	styles := ui.CurrentStyles()

	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = FormatRow(r)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(tableHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return styles.Header.Padding(0, 1)
			}
			if row < 0 || row >= len(results) {
				return cell
			}
			switch col {
			case 0:
				return styles.City.Padding(0, 1)
			case 1:
				if results[row].Succeeded() {
					return styles.Success.Padding(0, 1)
				}
				return styles.Error.Padding(0, 1)
			case 6:
				return styles.Dim.Padding(0, 1)
			}
			return cell
		})

	if _, err := fmt.Fprintln(out, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, FormatSummary(summary))
	return err
}

// PresentResults writes the JSON report.
func (JSONPresenter) PresentResults(results []orchestration.FetchResult, summary orchestration.Summary, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(orchestration.NewReport(results, summary))
}

// PresentResults does nothing.
func (NullPresenter) PresentResults([]orchestration.FetchResult, orchestration.Summary, io.Writer) error {
	return nil
}

// FormatRow returns the table cells for one result.
func FormatRow(r orchestration.FetchResult) []string {
	elapsed := format.Seconds(r.Elapsed) + "s"
	if !r.Succeeded() || r.Data == nil {
		msg := "unknown error"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return []string{r.City, "failed (" + r.Kind().String() + ")", "-", truncate(msg, MaxErrorWidth), "-", "-", elapsed}
	}
	d := r.Data
	return []string{
		r.City,
		"ok",
		strconv.FormatFloat(d.Temperature, 'f', 1, 64),
		d.Description,
		strconv.Itoa(d.Humidity) + "%",
		strconv.FormatFloat(d.WindSpeed, 'f', 1, 64),
		elapsed,
	}
}

// FormatSummary returns the line printed under the table.
func FormatSummary(s orchestration.Summary) string {
	return fmt.Sprintf("%d/%d cities fetched, %d failed, in %ss (peak %d in flight)",
		s.Succeeded, s.Total, s.Failed, format.Seconds(s.Elapsed), s.MaxInFlight)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
