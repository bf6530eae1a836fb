package iothub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Transport is the MQTT session the device talks through. It is
// deliberately narrow; *mqtt.Client satisfies it.
type Transport interface {
	// SetCredentialsProvider installs the callback consulted for the
	// username and password on every connect attempt. Must take effect
	// before Connect.
	SetCredentialsProvider(provider func() (username string, password string))

	Connect() error
	Close() error
	IsConnected() bool

	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// TimeSource supplies the current Unix time in seconds. SAS tokens are
// signed against it rather than the local clock, which on small devices
// drifts or starts at the epoch.
type TimeSource interface {
	Now(ctx context.Context) (int64, error)
}

// Device is a single device session against an Azure IoT Hub.
//
// It owns four concerns on top of the transport: SAS credential refresh
// across reconnects, device-to-cloud events, inbound dispatch (bound
// messages, direct methods, twin updates) and the twin request/response
// exchange. All state is instance-scoped; two Devices never share
// anything.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Twin requests are serialised: at most one is outstanding, later
//     callers block until it completes or times out.
type Device struct {
	identity   Identity
	transport  Transport
	timeSource TimeSource
	qos        byte

	// Credential state for the reconnect path: the timestamp the last
	// token was derived from and when the last connect attempt happened.
	authMu        sync.Mutex
	lastTimestamp int64
	lastAttempt   time.Time

	// Inbound dispatch slots. boundHandler and twinHandler are single
	// slots where the last registration wins; methods is keyed by name.
	handlerMu    sync.RWMutex
	boundHandler BoundHandler
	twinHandler  TwinHandler
	methods      map[string]MethodHandler

	// Twin correlation state. twinMu serialises requests and guards the
	// rid counter and the lazy response subscription.
	twinMu         sync.Mutex
	twinSubscribed bool
	rid            int64

	// resCh is armed with a fresh channel per waited request; the
	// response handler delivers through it when the rid matches.
	resMu  sync.Mutex
	resRid int64
	resCh  chan twinResponse

	logger   *slog.Logger
	loggerMu sync.RWMutex
}

// Option adjusts Device construction.
type Option func(*Device)

// WithQoS sets the quality-of-service level used for every hub
// subscription and publish. The hub supports 0 and 1; the default is 0.
func WithQoS(qos byte) Option {
	return func(d *Device) { d.qos = qos }
}

// WithLogger attaches a structured logger. Without one the device is
// silent.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// New creates a Device from a validated identity, an unconnected
// transport and a time source.
//
// Returns:
//   - error: On a missing dependency, an invalid identity or a QoS
//     level the hub does not support
func New(identity Identity, transport Transport, timeSource TimeSource, opts ...Option) (*Device, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if timeSource == nil {
		return nil, fmt.Errorf("time source is required")
	}

	d := &Device{
		identity:   identity,
		transport:  transport,
		timeSource: timeSource,
		rid:        -1,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.qos > 1 {
		return nil, fmt.Errorf("qos %d is not supported by the hub (must be 0 or 1)", d.qos)
	}
	return d, nil
}

// Connect queries the time source, installs the credentials provider on
// the transport and dials the hub.
//
// The initial timestamp is fetched here, synchronously, so a dead time
// source fails the call instead of producing a token the hub rejects.
// Reconnect attempts refresh the password through the provider (see
// credentials).
func (d *Device) Connect(ctx context.Context) error {
	ts, err := d.timeSource.Now(ctx)
	if err != nil {
		return fmt.Errorf("query timestamp: %w", err)
	}

	d.authMu.Lock()
	d.lastTimestamp = ts
	d.lastAttempt = time.Now()
	d.authMu.Unlock()

	d.transport.SetCredentialsProvider(d.credentials)

	if err := d.transport.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", d.identity.BrokerHost(), err)
	}

	d.logInfo("hub session established",
		"hub", d.identity.BrokerHost(),
		"device_id", d.identity.DeviceID,
	)
	return nil
}

// Close shuts the transport session down.
func (d *Device) Close() error {
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	d.logInfo("hub session closed", "device_id", d.identity.DeviceID)
	return nil
}

// IsConnected reports whether the transport session is currently up.
func (d *Device) IsConnected() bool {
	return d.transport.IsConnected()
}

// PublishEvent sends a device-to-cloud message. properties become the
// url-encoded bag in the topic; a nil map sends a bare topic. The
// payload travels as-is.
func (d *Device) PublishEvent(payload []byte, properties map[string]string) error {
	topic := EventsTopic(d.identity.DeviceID, properties)
	if err := d.transport.Publish(topic, payload, d.qos, false); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishEventJSON marshals event and sends it as a device-to-cloud
// message.
func (d *Device) PublishEventJSON(event any, properties map[string]string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return d.PublishEvent(payload, properties)
}

// SetLogger replaces the device's logger.
func (d *Device) SetLogger(logger *slog.Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Device) logInfo(msg string, args ...any) {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Device) logError(msg string, args ...any) {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	if d.logger != nil {
		d.logger.Error(msg, args...)
	}
}

func (d *Device) logDebug(msg string, args ...any) {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
