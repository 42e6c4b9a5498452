// Package config handles loading and validating the Tasmota bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TASMOTA_BRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Secrets (MQTT password, InfluxDB token, Redis password, GitHub token)
// should be supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.CheckPeriod())
package config
