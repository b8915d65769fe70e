// Package config provides configuration management for ledgersync.
//
// # Key Features
//
// - Config: one YAML document with service, source, destination, http,
// watermark, logging and observability sections
// - Environment variable substitution with ${VAR_NAME} syntax
// - Overrides from LEDGERSYNC_* environment variables and CLI flags via viper
// - Production defaults and validation
//
// # Usage
//
//	cfg, err := config.LoadFile("ledgersync.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	v := config.NewViper()
//	cfg.ApplyOverrides(v)
//
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	destination:
//	  endpoint_url: ${WEBHOOK_URL}
//	  auth:
//	    type: bearer
//	    token: ${WEBHOOK_TOKEN}
package config
