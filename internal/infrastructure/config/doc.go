// Package config handles loading and validating the Allnet bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ALLNET_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Device and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - DeviceConfig.String redacts the device password for logging
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device)
package config
