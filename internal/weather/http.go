package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/agbru/cityweather/internal/errors"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 1024

// httpDoer is the part of *http.Client providers use.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// get issues a GET and returns the body of a 200 response. Non-200 responses
// become HTTPStatusError carrying a truncated body.
func get(ctx context.Context, client httpDoer, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
