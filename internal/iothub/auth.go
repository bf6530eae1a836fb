package iothub

import (
	"context"
	"time"

	"github.com/zerynth/lib-azure-iot/internal/sas"
)

// reauthThreshold is the longest reconnect gap bridged by extrapolating
// the cached timestamp. Gaps beyond it mean the cached value is too old
// to trust, so the time source is queried again.
const reauthThreshold = 10 * time.Second

// credentials is the transport's credentials provider. It runs on the
// initial connect and again on every reconnect attempt, returning the
// hub username and a freshly signed SAS token.
//
// A reconnect within reauthThreshold of the previous attempt advances
// the cached timestamp by the elapsed whole seconds instead of hitting
// the time source, so a flapping link does not turn into a query storm.
func (d *Device) credentials() (string, string) {
	d.authMu.Lock()
	defer d.authMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(d.lastAttempt)

	timestamp := d.lastTimestamp + int64(elapsed/time.Second)
	if elapsed > reauthThreshold {
		fresh, err := d.timeSource.Now(context.Background())
		if err != nil {
			d.logError("timestamp query failed, extrapolating from cached value",
				"error", err,
				"elapsed", elapsed,
			)
		} else {
			timestamp = fresh
		}
	}

	d.lastAttempt = now
	d.lastTimestamp = timestamp

	expiry := timestamp + 60*int64(d.identity.TokenLifetime)
	token, err := sas.Generate(d.identity.ResourceURI(), d.identity.Key, expiry)
	if err != nil {
		// Unreachable with a construction-validated key.
		d.logError("sas token generation failed", "error", err)
		return d.identity.Username(), ""
	}
	return d.identity.Username(), token
}
