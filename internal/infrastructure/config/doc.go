// Package config handles loading and validating the INDI watchdog configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults reproduce the behaviour of a bare watchdog started with no
// arguments: INDI server on localhost:7624, device list in indi_devices.json,
// restart trigger limit of 3 and the indiserver FIFO at /tmp/indiserverFIFO.
// Optional integrations (MQTT, InfluxDB, SQLite history, HTTP API,
// managed indiserver) are disabled until switched on.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/indiwatchdog.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.INDIAddress())
package config
