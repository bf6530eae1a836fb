// Package config handles loading and validating agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (device key, InfluxDB token, JWT secret) should be
//     set via environment variables, not the config file
//   - The config file should have restricted permissions (0600)
//   - The device key grants full device identity on the hub; treat it like
//     a password
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.DeviceID)
package config
