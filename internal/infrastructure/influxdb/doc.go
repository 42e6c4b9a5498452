// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// Every capability value a Tasmota device reports, and every change in its
// availability, can be mirrored as a point so dashboards can chart power,
// temperature or uptime history without querying the bridge.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteCapability("DVES_1A2B3C", "tasmota", "measure_power", 12.5)
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write failures are delivered to the SetOnError callback.
package influxdb
