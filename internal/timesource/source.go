package timesource

import (
	"context"
	"fmt"
	"time"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

// Source supplies the epoch timestamps used to derive token expiries.
//
// Token signing needs a trustworthy clock: a device whose RTC drifts or
// boots at 1970 would sign tokens the hub rejects. Deployments with a good
// local clock use System; RTC-less devices fetch time over HTTP.
type Source interface {
	// Now returns the current Unix timestamp in seconds.
	Now(ctx context.Context) (int64, error)
}

// System reads the local clock.
type System struct{}

// Now returns the local Unix time. It never fails.
func (System) Now(_ context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// FromConfig returns the Source selected by the timesource configuration.
func FromConfig(cfg config.TimeSourceConfig) (Source, error) {
	switch cfg.Mode {
	case "", "system":
		return System{}, nil
	case "http":
		return NewHTTP(cfg), nil
	default:
		return nil, fmt.Errorf("timesource: unknown mode %q", cfg.Mode)
	}
}
