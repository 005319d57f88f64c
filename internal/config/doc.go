// Package config handles configuration loading for keyport.
//
// # Overview
//
// Configuration starts from built-in defaults, is overlaid by an optional
// YAML or TOML file, and finally by KEYPORT_* environment variables.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from KEYPORT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/keyport/config.yaml
//  3. ~/.config/keyport/config.yaml
//
// A missing default file is not an error for the serve command; an explicit
// path that cannot be read is. Files ending in .toml are decoded as TOML.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	challenge:
//	  redis:
//	    password: "${REDIS_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// Every field can be set directly with a KEYPORT_ variable named after its
// section and key, for example KEYPORT_SERVER_HTTP_ADDR,
// KEYPORT_AUTH_PASSKEY_SESSION_TTL or KEYPORT_CHALLENGE_REDIS_ADDR. List
// values such as KEYPORT_WEBAUTHN_RP_ORIGINS are comma separated.
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/keyport/keyport.db"  # default $XDG_DATA_HOME/keyport/keyport.db
//
//	webauthn:
//	  base_url: "https://auth.example.com"  # rp_id and rp_origins derive from it
//	  rp_display_name: "keyport"
//
//	auth:
//	  password_algorithm: "bcrypt"  # bcrypt, argon2id
//	  bcrypt_cost: 0                # 0 selects the library default
//	  password_session_ttl: "168h"
//	  passkey_session_ttl: "720h"
//	  session_purge_interval: "1h"
//	  max_blob_bytes: 16384
//
//	challenge:
//	  backend: "memory"  # memory, redis
//	  ttl: "5m"
//	  max_entries: 10000
//	  redis:
//	    addr: "localhost:6379"
//	    key_prefix: "keyport:"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load returns the first invalid field it finds, covering durations,
// algorithm and backend names, and size limits.
package config
