// Package api provides the HTTP management API of the Tasmota bridge.
//
// It exposes paired devices, capability writes, settings changes and the
// pairing workflow to the host UI, plus the device activity log and
// Prometheus metrics.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Handlers never touch runtime devices directly; every bridge operation is
// serialised through the bridge's event loop.
package api
