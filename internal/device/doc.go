// Package device is the host-side registry of paired Tasmota devices.
//
// It owns everything the bridge core treats as an external collaborator:
// persisted device records (settings and capability lists), the runtime
// capability value store and the available/unavailable flag shown to users.
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	registry.AddSink(influxSink)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
// Capability values live in memory; every change and every deletion is
// forwarded to the registered ValueSinks (InfluxDB history, Redis state
// cache, audit log). Sinks run on the caller's goroutine, which is the
// bridge's event loop, so sinks that do I/O are wrapped in an AsyncSink:
//
//	cache := device.NewAsyncSink("redis", redisSink, device.AsyncOptions{Logger: log})
//	defer cache.Close()
//	registry.AddSink(cache)
//
// RestoreValues seeds last known values from the state cache at startup.
//
// # Addresses
//
// Each device carries a driver-scoped Address (the MQTT topic for plain
// Tasmota devices, topic plus short address for zigbee end devices). Two
// devices of the same driver may not share an address: routing dispatches
// to the first match, so a duplicate would never see its messages.
// CreateDevice rejects it with ErrDuplicateAddress.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
package device
