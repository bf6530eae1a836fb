package iothub

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// BoundHandler receives cloud-to-device messages. payload is the raw
// message body; properties is the decoded bag from the topic (system
// keys such as $.to included).
type BoundHandler func(payload []byte, properties map[string]string)

// MethodHandler answers a direct method invocation. body is the decoded
// request document, nil when the cloud sent no arguments. The returned
// status and document are published back as the method result; a nil
// document answers with a JSON null.
type MethodHandler func(body map[string]any) (status int, response map[string]any)

// TwinHandler receives desired-property updates pushed by the hub. A
// non-nil return value is immediately reported back as reported
// properties, fire-and-forget.
type TwinHandler func(desired map[string]any, version int) map[string]any

// OnBound registers the handler for cloud-to-device messages. The first
// registration subscribes the devicebound filter; later calls replace
// the handler in place.
//
// Call after Connect: the subscription needs a live session.
func (d *Device) OnBound(handler BoundHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()

	if d.boundHandler == nil {
		if err := d.transport.Subscribe(BoundFilter(d.identity.DeviceID), d.qos, d.handleBound); err != nil {
			return fmt.Errorf("subscribe devicebound: %w", err)
		}
	}
	d.boundHandler = handler
	return nil
}

// OnMethod registers the handler for one direct method name. The first
// registration of any method subscribes the shared methods filter;
// registering a name again replaces its handler.
//
// Call after Connect: the subscription needs a live session.
func (d *Device) OnMethod(name string, handler MethodHandler) error {
	if name == "" {
		return fmt.Errorf("method name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()

	if d.methods == nil {
		if err := d.transport.Subscribe(MethodsFilter(), d.qos, d.handleMethod); err != nil {
			return fmt.Errorf("subscribe methods: %w", err)
		}
		d.methods = make(map[string]MethodHandler)
	}
	d.methods[name] = handler
	return nil
}

// OnTwinUpdate registers the handler for desired-property updates. The
// first registration subscribes the desired-properties filter; later
// calls replace the handler in place.
//
// Call after Connect: the subscription needs a live session.
func (d *Device) OnTwinUpdate(handler TwinHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	d.handlerMu.Lock()
	defer d.handlerMu.Unlock()

	if d.twinHandler == nil {
		if err := d.transport.Subscribe(TwinDesiredFilter(), d.qos, d.handleTwinPatch); err != nil {
			return fmt.Errorf("subscribe twin updates: %w", err)
		}
	}
	d.twinHandler = handler
	return nil
}

// handleBound decodes a cloud-to-device message and hands it to the
// registered handler.
func (d *Device) handleBound(topic string, payload []byte) error {
	if !IsBound(topic, d.identity.DeviceID) {
		return nil
	}

	properties, err := ParseProperties(topic)
	if err != nil {
		return fmt.Errorf("decode devicebound properties: %w", err)
	}

	d.handlerMu.RLock()
	handler := d.boundHandler
	d.handlerMu.RUnlock()
	if handler == nil {
		return nil
	}

	handler(payload, properties)
	return nil
}

// handleMethod answers a direct method request. An unregistered name is
// answered with 501 so the cloud caller gets a response instead of a
// timeout, and the miss is surfaced as an error.
func (d *Device) handleMethod(topic string, payload []byte) error {
	name, err := ParseMethodName(topic)
	if err != nil {
		return fmt.Errorf("decode method request: %w", err)
	}

	d.handlerMu.RLock()
	handler, ok := d.methods[name]
	d.handlerMu.RUnlock()

	if !ok {
		d.logError("direct method has no handler", "method", name)
		errDoc, _ := json.Marshal(map[string]string{"error": "no handler registered for method " + name})
		if err := d.transport.Publish(MethodResponseTopic(501, topic), errDoc, d.qos, false); err != nil {
			d.logError("method response publish failed", "method", name, "error", err)
		}
		return fmt.Errorf("%w: %s", ErrMethodNotRegistered, name)
	}

	// The hub sends the literal string "null" for an argument-less
	// invocation; both it and an empty payload decode to a nil body.
	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("decode method %s body: %w", name, err)
		}
	}

	status, response := handler(body)

	resDoc, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode method %s response: %w", name, err)
	}
	if err := d.transport.Publish(MethodResponseTopic(status, topic), resDoc, d.qos, false); err != nil {
		return fmt.Errorf("publish method %s response: %w", name, err)
	}

	d.logDebug("direct method handled", "method", name, "status", status)
	return nil
}

// handleTwinPatch decodes a desired-property update and hands it to the
// registered handler. A document returned by the handler is reported
// without waiting for confirmation: the confirmation arrives on this
// same inbound path, so waiting here would wedge against ourselves.
func (d *Device) handleTwinPatch(topic string, payload []byte) error {
	if !IsTwinPatch(topic) {
		return nil
	}

	version, err := ParseTwinVersion(topic)
	if err != nil {
		return fmt.Errorf("decode twin update: %w", err)
	}

	var desired map[string]any
	if err := json.Unmarshal(payload, &desired); err != nil {
		return fmt.Errorf("decode twin update payload: %w", err)
	}

	d.handlerMu.RLock()
	handler := d.twinHandler
	d.handlerMu.RUnlock()
	if handler == nil {
		return nil
	}

	reported := handler(desired, version)
	if reported == nil {
		return nil
	}
	if err := d.ReportTwinAsync(reported); err != nil {
		return fmt.Errorf("report twin from update handler: %w", err)
	}
	return nil
}
