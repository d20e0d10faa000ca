// Package config loads client configuration from YAML or TOML files.
//
// Example YAML:
//
//	queue:
//	  capacity: 8192
//	  backpressure: reject
//	bridge:
//	  timeout: 10s
//	  maxPending: 1000
//	correlation:
//	  ttl: 2m
//	  sweepSchedule: "@every 15s"
//	log:
//	  level: debug
//	  format: json
//
// Fields left out keep their Default values.
package config
