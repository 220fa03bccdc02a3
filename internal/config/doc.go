// Package config loads the platter client configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/platter/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing/empty, use defaults
//
// Files ending in .yaml or .yml are parsed as YAML; anything else as TOML.
// Command line flags and PLATTER_* environment variables are layered on top
// by cmd/platter.
//
// # Default Values
//
//   - API base URL: http://127.0.0.1:8080/api
//   - Data directory: ~/.local/share/platter
//   - Client log: <data_dir>/platter.log
//   - Storage: file driver under <data_dir>/state
//   - Version poll interval: 30s
//   - Order poll interval: 3m
//   - Request timeout: 10s
//
// # TOML Format
//
//	api_url = "https://food.example.com/api"
//	token = "eyJhbGciOi..."
//	data_dir = "~/.local/share/platter"
//	log_level = "info"
//	version_interval = "30s"
//	order_poll_interval = "3m"
//	request_timeout = "10s"
//
//	[storage]
//	driver = "sqlite"    # memory | file | sqlite | postgres | redis
//	dsn = ""             # derived from data_dir for file and sqlite
//
// Durations use Go duration syntax and must be positive.
//
// # Error Handling
//
// Load returns errors for:
//   - Path expansion failures (e.g., cannot determine home directory)
//   - File read errors (except os.ErrNotExist, which triggers defaults)
//   - TOML/YAML parsing errors and malformed durations
//   - Unknown storage drivers (ErrUnknownDriver) or postgres without a dsn
//
// Missing config files are NOT an error. The client works out of the box
// against a local backend with file storage.
package config
