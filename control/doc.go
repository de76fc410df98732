// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for the lwm2mux bridge.
//
// Provides:
//   - Config with defaults, validation and viper-based loading
//   - zap logger construction from LoggingConfig
//   - OpenTelemetry instruments shared by the registry, capture and bridge layers
//   - Debug probe registration for state dumps
package control
