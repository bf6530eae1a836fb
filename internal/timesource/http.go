package timesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

// defaultFetchTimeout bounds a time fetch when config leaves it unset.
const defaultFetchTimeout = 5 * time.Second

// userAgent is sent on time requests. Public time endpoints are known to
// reject default library agents.
const userAgent = "curl/7.56.0"

// ErrFieldNotFound is returned when the configured epoch field is missing
// from the endpoint's JSON response.
var ErrFieldNotFound = errors.New("timesource: epoch field not found in response")

// HTTP fetches the current time from a JSON endpoint.
//
// The endpoint is expected to return a JSON document carrying the Unix
// epoch in seconds at a configurable dotted path, e.g. "now.epoch" for
// a now.httpbin.org-style response:
//
//	{"now": {"epoch": 1509001724.0427694, ...}}
type HTTP struct {
	url        string
	epochField string
	httpClient *http.Client
}

// NewHTTP creates a time source for the configured endpoint.
func NewHTTP(cfg config.TimeSourceConfig) *HTTP {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	epochField := cfg.EpochField
	if epochField == "" {
		epochField = "now.epoch"
	}

	return &HTTP{
		url:        cfg.URL,
		epochField: epochField,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Now fetches the current Unix timestamp from the endpoint.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - int64: Epoch seconds (fractional parts are truncated)
//   - error: If the request fails, the response is not JSON, or the
//     epoch field is absent
func (h *HTTP) Now(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("timesource: building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("timesource: fetching timestamp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("timesource: endpoint returned status %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, fmt.Errorf("timesource: decoding response: %w", err)
	}

	return extractEpoch(doc, h.epochField)
}

// extractEpoch walks a dotted path through nested JSON objects and
// coerces the leaf into epoch seconds.
func extractEpoch(doc map[string]any, path string) (int64, error) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("%w: %q is not an object", ErrFieldNotFound, part)
		}
		current, ok = obj[part]
		if !ok {
			return 0, fmt.Errorf("%w: missing %q", ErrFieldNotFound, part)
		}
	}

	switch v := current.(type) {
	case float64:
		return int64(v), nil
	case string:
		epoch, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("timesource: epoch field %q is not numeric: %w", path, err)
		}
		return int64(epoch), nil
	default:
		return 0, fmt.Errorf("timesource: epoch field %q has unsupported type %T", path, current)
	}
}
