// Package config loads the runtime configuration from YAML or JSON.
// YAML is coerced to JSON so both formats share one strict decoder;
// unknown keys and malformed durations are load-time errors. There is
// no reload: the config is read once at startup.
package config
