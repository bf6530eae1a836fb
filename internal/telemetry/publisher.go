package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zerynth/lib-azure-iot/internal/spool"
)

const (
	defaultPeriod   = 30 * time.Second
	drainBatchLimit = 100
)

// Sample is one telemetry reading: the event body and its property bag.
type Sample struct {
	Fields     map[string]any
	Properties map[string]string
}

// SampleFunc produces the next reading. Called once per period from the
// publisher's goroutine.
type SampleFunc func() Sample

// EventPublisher is the device-to-cloud side the publisher needs.
// *iothub.Device satisfies it.
type EventPublisher interface {
	PublishEvent(payload []byte, properties map[string]string) error
	IsConnected() bool
}

// Spool journals events that could not be published.
// *spool.Repository satisfies it.
type Spool interface {
	Enqueue(ctx context.Context, payload []byte, properties map[string]string) (string, error)
	Pending(ctx context.Context, limit int) ([]spool.Event, error)
	MarkSent(ctx context.Context, id string) error
}

// HistoryWriter mirrors published samples into local history.
// *influxdb.Client satisfies it.
type HistoryWriter interface {
	WriteEvent(deviceID string, fields map[string]any)
	WriteEventAt(deviceID string, fields map[string]any, at time.Time)
}

// Config holds the publisher's collaborators and initial period.
type Config struct {
	// DeviceID tags history writes.
	DeviceID string

	// Period is the initial sampling period. Default: 30 seconds.
	Period time.Duration

	// Device publishes events to the hub. Required.
	Device EventPublisher

	// Sample produces readings. Required.
	Sample SampleFunc

	// Spool journals events while the session is down. Optional; without
	// it, samples that cannot be published are dropped.
	Spool Spool

	// History mirrors published samples locally. Optional.
	History HistoryWriter
}

// Publisher runs the periodic sampling loop.
type Publisher struct {
	deviceID string
	device   EventPublisher
	sample   SampleFunc
	spool    Spool
	history  HistoryWriter

	period   time.Duration
	periodMu sync.RWMutex

	// wake nudges the loop when the period changes.
	wake chan struct{}

	logger   *slog.Logger
	loggerMu sync.RWMutex
}

// New creates a publisher. Run starts the loop.
func New(cfg Config) (*Publisher, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("telemetry: device is required")
	}
	if cfg.Sample == nil {
		return nil, fmt.Errorf("telemetry: sample function is required")
	}

	period := cfg.Period
	if period <= 0 {
		period = defaultPeriod
	}

	return &Publisher{
		deviceID: cfg.DeviceID,
		device:   cfg.Device,
		sample:   cfg.Sample,
		spool:    cfg.Spool,
		history:  cfg.History,
		period:   period,
		wake:     make(chan struct{}, 1),
	}, nil
}

// SetLogger sets the logger used by the loop.
func (p *Publisher) SetLogger(logger *slog.Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Period returns the current sampling period.
func (p *Publisher) Period() time.Duration {
	p.periodMu.RLock()
	defer p.periodMu.RUnlock()
	return p.period
}

// SetPeriod changes the sampling period and restarts the timer.
// Non-positive values are ignored.
func (p *Publisher) SetPeriod(period time.Duration) {
	if period <= 0 {
		p.logError("ignoring non-positive publish period", nil, "period", period)
		return
	}

	p.periodMu.Lock()
	changed := period != p.period
	p.period = period
	p.periodMu.Unlock()

	if !changed {
		return
	}

	p.logInfo("publish period changed", "period", period)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run executes the sampling loop until the context is cancelled.
// The first sample is published immediately.
func (p *Publisher) Run(ctx context.Context) {
	p.tick(ctx)

	ticker := time.NewTicker(p.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			ticker.Reset(p.Period())
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick drains the spool if possible, then samples and publishes.
func (p *Publisher) tick(ctx context.Context) {
	if p.spool != nil && p.device.IsConnected() {
		p.drain(ctx)
	}

	sample := p.sample()
	if len(sample.Fields) == 0 {
		p.logDebug("sample produced no fields, skipping")
		return
	}

	payload, err := json.Marshal(sample.Fields)
	if err != nil {
		p.logError("marshalling sample", err)
		return
	}

	if !p.device.IsConnected() {
		p.enqueue(ctx, payload, sample.Properties)
		return
	}

	if err := p.device.PublishEvent(payload, sample.Properties); err != nil {
		p.logError("publish failed, spooling event", err)
		p.enqueue(ctx, payload, sample.Properties)
		return
	}

	p.logDebug("telemetry published", "payload_bytes", len(payload))
	if p.history != nil {
		p.history.WriteEvent(p.deviceID, sample.Fields)
	}
}

// enqueue journals a sample that could not be published.
func (p *Publisher) enqueue(ctx context.Context, payload []byte, properties map[string]string) {
	if p.spool == nil {
		p.logError("event dropped, no spool configured", nil)
		return
	}

	id, err := p.spool.Enqueue(ctx, payload, properties)
	if err != nil {
		p.logError("spooling event", err)
		return
	}
	p.logDebug("event spooled", "id", id)
}

// drain publishes spooled events oldest-first until the spool is empty
// or a publish fails.
func (p *Publisher) drain(ctx context.Context) {
	events, err := p.spool.Pending(ctx, drainBatchLimit)
	if err != nil {
		p.logError("reading spool", err)
		return
	}
	if len(events) == 0 {
		return
	}

	delivered := 0
	for _, ev := range events {
		if err := p.device.PublishEvent(ev.Payload, ev.Properties); err != nil {
			p.logError("spool drain interrupted", err)
			break
		}
		if err := p.spool.MarkSent(ctx, ev.ID); err != nil {
			p.logError("marking spooled event sent", err)
			break
		}
		if p.history != nil {
			p.mirrorSpooled(ev)
		}
		delivered++
	}

	if delivered > 0 {
		p.logInfo("spool drained", "delivered", delivered, "remaining", len(events)-delivered)
	}
}

// mirrorSpooled writes a drained event into history at its original
// creation time.
func (p *Publisher) mirrorSpooled(ev spool.Event) {
	var fields map[string]any
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		// Not a JSON object; nothing sensible to chart.
		return
	}
	p.history.WriteEventAt(p.deviceID, fields, ev.CreatedAt)
}

func (p *Publisher) logInfo(msg string, args ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (p *Publisher) logError(msg string, err error, args ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		if err != nil {
			args = append(args, "error", err)
		}
		logger.Error(msg, args...)
	}
}

func (p *Publisher) logDebug(msg string, args ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}
