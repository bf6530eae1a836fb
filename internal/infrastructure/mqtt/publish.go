package mqtt

import (
	"fmt"
)

// Maximum payload size for outbound messages (256KB).
// This is the hub's device-to-cloud message limit; larger messages are
// rejected server-side, so checking here gives the caller a clean error.
const maxPayloadSize = 256 << 10 // 256KB

// Publish sends a message to the specified topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "devices/d1/messages/events/")
//   - payload: The message payload (typically JSON, max 256KB)
//   - qos: Quality of Service level (0 or 1)
//   - retained: Whether the broker should retain the message. The hub does
//     not store retained messages; keep this false against the hub.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Publish("devices/d1/messages/events/", []byte(`{"temp":21.5}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Publish with timeout
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishString is a convenience method that publishes a string payload.
//
// This is equivalent to calling Publish with []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}
