// Package config handles configuration loading for coven-assist.
//
// # Overview
//
// Configuration is loaded from a YAML file over built-in defaults, with
// environment variable expansion. Any key left out of the file keeps its
// default, so an empty file is a valid configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_ASSIST_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/assist.yaml
//  3. ~/.config/coven/assist.yaml
//
// If the file at the default location does not exist, Default() is used.
//
// # Environment Variable Expansion
//
//	oracle:
//	  address: "${ORACLE_ADDR}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8090"
//
//	oracle:
//	  backend: "grpc"            # echo, grpc
//	  address: "localhost:50061"
//	  init_timeout: "30s"
//	  request_timeout: "60s"
//	  keepalive_time: "30s"
//	  keepalive_timeout: "10s"
//	  echo_latency: "0s"         # echo backend only
//	  echo_fail_every: 0         # echo backend only
//
//	session:
//	  preamble: "You are ..."
//	  greeting: "Hi! How can I help you today?"
//	  fallback: "Sorry, I couldn't get a reply just now."
//	  send_policy: "queue"       # queue, reject, concurrent
//
//	api:
//	  rate_limit: 2              # sends per second, 0 disables
//	  burst: 5
//	  dedupe_ttl: "10m"
//	  dedupe_max: 1000
//
//	database:
//	  path: ""                   # empty disables the exchange ledger
//
//	logging:
//	  level: "info"              # debug, info, warn, error
//	  format: "text"             # text, json
package config
