// Package telemetry publishes periodic device-to-cloud samples.
//
// A Publisher runs a sampling loop: every period it calls the sample
// function, publishes the reading as a hub event, and mirrors it into
// the local history sink when one is configured. While the hub session
// is down (or a publish fails) samples are journalled to the event
// spool instead of being dropped, and each tick with a live session
// drains spooled events oldest-first before publishing the fresh one.
//
// The period can be changed at runtime, which is how the hub's desired
// twin property publish_period takes effect.
//
// # Usage
//
//	pub, err := telemetry.New(telemetry.Config{
//	    DeviceID: cfg.Device.DeviceID,
//	    Period:   30 * time.Second,
//	    Device:   device,
//	    Spool:    sp,
//	    Sample: func() telemetry.Sample {
//	        temp := readSensor()
//	        return telemetry.Sample{
//	            Fields:     map[string]any{"temp": temp},
//	            Properties: map[string]string{"above_th": aboveTh(temp)},
//	        }
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	go pub.Run(ctx)
//
// Run blocks until the context is cancelled.
package telemetry
