// Package config handles configuration loading for scout-gateway.
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
//	llm:
//	  api_key: "${GEMINI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	grounding:
//	  timeout: "20s"
//	research:
//	  sub_call_timeout: "90s"
//	  turn_timeout: "5m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API + WebSocket endpoint
//
// Storage:
//
//	database:
//	  memory_path: "/var/lib/scout/memory"   # Pebble, conversation memory
//	  ledger_path: "/var/lib/scout/turns.db" # SQLite, turn/usage ledger
//	  cache_path: "/var/lib/scout/pages"     # Pebble, fetched-page cache
//
// Text generation:
//
//	llm:
//	  model: "gemini-2.0-flash"
//	  api_key: "${GEMINI_API_KEY}"
//	  prompt_cost_per_1k: 0.0001
//	  completion_cost_per_1k: 0.0004
//
// Grounding search:
//
//	grounding:
//	  base_url: "http://localhost:9090"
//	  max_snippets: 6
//
// Live research sampling defaults:
//
//	research:
//	  select_queries: 5
//	  query_fraction: 0.25
//	  result_fraction: 0.25
//	  results_per_query: 8
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
