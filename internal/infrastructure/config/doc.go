// Package config handles loading and validating Gray Logic Gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Controller passwords and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range cfg.DoorAccess.Controllers {
//	    fmt.Println(c.ID, c.Manufacturer)
//	}
package config
