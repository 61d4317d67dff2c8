// Package config handles configuration loading for gurulo-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${GURULO_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_ttl: "1h"
//	  refresh_ttl: "168h"
//	ratelimit:
//	  window: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and web admin
//	  grpc_addr: "0.0.0.0:50051"  # internal service calls
//	  base_url: "https://auth.bakhmaro.co"
//
// Database:
//
//	database:
//	  path: "/var/lib/gurulo/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${GURULO_JWT_SECRET}"  # Required
//	  issuer: "bakhmaro-api"
//	  audience: "bakhmaro-clients"
//
// Device trust:
//
//	device:
//	  fingerprint_salt: "${GURULO_FP_SALT}"  # Required
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/gurulo/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
