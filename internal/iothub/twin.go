package iothub

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Twin request/response exchange. The hub answers twin get and report
// publishes on $iothub/twin/res/<status>/?$rid=<id>; the request id is
// the only correlation between the two. One request is outstanding at a
// time, guarded by twinMu, so a response either belongs to the current
// request or is stale.

// twinResponse carries one hub response from the transport handler to
// the waiting request.
type twinResponse struct {
	status  int
	payload []byte
}

// GetTwin requests the full twin document (desired and reported
// sections) and waits for the hub's answer.
//
// Returns:
//   - int: The hub's status code (200 on success)
//   - map[string]any: The twin document; nil unless the status is 200
//   - error: ErrTwinTimeout when ctx expires first, otherwise transport
//     or decode failures
func (d *Device) GetTwin(ctx context.Context) (int, map[string]any, error) {
	d.twinMu.Lock()
	defer d.twinMu.Unlock()

	if err := d.ensureTwinResponses(); err != nil {
		return 0, nil, err
	}

	d.rid++
	ch := d.armResponse(d.rid)
	defer d.disarmResponse()

	if err := d.transport.Publish(TwinGetTopic(d.rid), nil, d.qos, false); err != nil {
		return 0, nil, fmt.Errorf("publish twin get: %w", err)
	}

	select {
	case res := <-ch:
		var twin map[string]any
		if res.status == 200 {
			if err := json.Unmarshal(res.payload, &twin); err != nil {
				return res.status, nil, fmt.Errorf("decode twin document: %w", err)
			}
		}
		return res.status, twin, nil
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("%w: %v", ErrTwinTimeout, ctx.Err())
	}
}

// GetTwinWithTimeout is GetTwin bounded by a plain duration. A timeout
// of zero or less waits indefinitely.
func (d *Device) GetTwinWithTimeout(timeout time.Duration) (int, map[string]any, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.GetTwin(ctx)
}

// ReportTwin publishes reported properties and waits for the hub's
// confirmation.
//
// Returns:
//   - int: The hub's status code (204 on success)
//   - error: ErrTwinTimeout when ctx expires first, otherwise transport
//     or encode failures
func (d *Device) ReportTwin(ctx context.Context, reported map[string]any) (int, error) {
	payload, err := json.Marshal(reported)
	if err != nil {
		return 0, fmt.Errorf("encode reported twin: %w", err)
	}

	d.twinMu.Lock()
	defer d.twinMu.Unlock()

	if err := d.ensureTwinResponses(); err != nil {
		return 0, err
	}

	d.rid++
	ch := d.armResponse(d.rid)
	defer d.disarmResponse()

	if err := d.transport.Publish(TwinReportTopic(d.rid), payload, d.qos, false); err != nil {
		return 0, fmt.Errorf("publish reported twin: %w", err)
	}

	select {
	case res := <-ch:
		return res.status, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrTwinTimeout, ctx.Err())
	}
}

// ReportTwinWithTimeout is ReportTwin bounded by a plain duration. A
// timeout of zero or less waits indefinitely.
func (d *Device) ReportTwinWithTimeout(reported map[string]any, timeout time.Duration) (int, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.ReportTwin(ctx, reported)
}

// ReportTwinAsync publishes reported properties without waiting for the
// hub's confirmation. The eventual response is discarded. This is the
// only reporting variant safe to call from inside message handlers.
func (d *Device) ReportTwinAsync(reported map[string]any) error {
	payload, err := json.Marshal(reported)
	if err != nil {
		return fmt.Errorf("encode reported twin: %w", err)
	}

	d.twinMu.Lock()
	defer d.twinMu.Unlock()

	if err := d.ensureTwinResponses(); err != nil {
		return err
	}

	d.rid++
	if err := d.transport.Publish(TwinReportTopic(d.rid), payload, d.qos, false); err != nil {
		return fmt.Errorf("publish reported twin: %w", err)
	}
	return nil
}

// ensureTwinResponses subscribes the twin response filter on the first
// twin request of the session. Callers hold twinMu.
func (d *Device) ensureTwinResponses() error {
	if d.twinSubscribed {
		return nil
	}
	if err := d.transport.Subscribe(TwinResponseFilter(), d.qos, d.handleTwinResponse); err != nil {
		return fmt.Errorf("subscribe twin responses: %w", err)
	}
	d.twinSubscribed = true
	return nil
}

// armResponse readies a single-slot channel for the response to rid.
func (d *Device) armResponse(rid int64) chan twinResponse {
	ch := make(chan twinResponse, 1)
	d.resMu.Lock()
	d.resRid = rid
	d.resCh = ch
	d.resMu.Unlock()
	return ch
}

// disarmResponse drops the armed channel; later responses for its rid
// are discarded as stale.
func (d *Device) disarmResponse() {
	d.resMu.Lock()
	d.resCh = nil
	d.resMu.Unlock()
}

// handleTwinResponse routes a hub response to the request waiting on
// it. Responses with no waiter or a mismatched rid are dropped: they
// belong to timed-out or fire-and-forget requests.
func (d *Device) handleTwinResponse(topic string, payload []byte) error {
	if !IsTwinResponse(topic) {
		return nil
	}

	status, err := ParseResponseStatus(topic)
	if err != nil {
		return fmt.Errorf("decode twin response: %w", err)
	}
	rid, err := ParseRequestID(topic)
	if err != nil {
		return fmt.Errorf("decode twin response: %w", err)
	}

	d.resMu.Lock()
	defer d.resMu.Unlock()

	if d.resCh == nil || rid != d.resRid {
		d.logDebug("discarding unmatched twin response", "rid", rid, "status", status)
		return nil
	}

	d.resCh <- twinResponse{status: status, payload: payload}
	d.resCh = nil
	return nil
}
