// # Naming Conventions
//
// Functions in this package follow consistent naming patterns based on their behavior:
//
//   - Display* functions write to an [io.Writer] while a batch runs.
//     Example: [DisplayProgress].
//
//   - Format* functions return a formatted string without performing I/O.
//     Examples: [FormatRow], [FormatSummary].
//
//   - Write* functions write data to files on the filesystem.
//     Example: [WriteResultsToFile].

package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	apperrors "github.com/agbru/cityweather/internal/errors"
	"github.com/agbru/cityweather/internal/orchestration"
)

// WriteResultsToFile writes the batch report as JSON to path, creating parent
// directories as needed. An empty path is a no-op.
func WriteResultsToFile(path string, results []orchestration.FetchResult, summary orchestration.Summary) error {
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.WrapError(err, "failed to create directory")
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return apperrors.WrapError(err, "failed to create output file")
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(orchestration.NewReport(results, summary)); err != nil {
		file.Close()
		return apperrors.WrapError(err, "failed to write results")
	}
	return file.Close()
}
