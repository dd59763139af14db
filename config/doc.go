// Package config loads client settings from a YAML file and turns them
// into redisclient options.
//
// Values may reference environment variables as ${VAR}; they are expanded
// before parsing so secrets can stay out of the file:
//
//	hosts:
//	  read_write: ["primary:6379"]
//	  read_only: ["replica-1:6379", "replica-2:6379"]
//	password: ${REDIS_PASSWORD}
//	pool:
//	  max_write: 10
//	  max_read: 20
//	  timeout: 2s
//	timeouts:
//	  idle: 4m
//	logging:
//	  level: debug
package config
