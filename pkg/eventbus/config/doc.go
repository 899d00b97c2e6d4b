/*
Package config loads event bus configuration.

# Settings

Settings is the typed configuration consumed by eventbus.NewFromSettings.
Load resolves it from four layers, later layers winning:

 1. DefaultSettings
 2. a YAML or JSON file (flat keys, or nested under "eventbus")
 3. .env files, loaded into the environment without overriding it
 4. EVENTBUS_* environment variables

Example file:

	eventbus:
	  source: orders-service
	  db_path: ./events.db
	  history_size: 500
	  handler_timeout: 2s
	  retention_days: 14

Equivalent environment:

	EVENTBUS_SOURCE=orders-service
	EVENTBUS_DB_PATH=./events.db
	EVENTBUS_HANDLER_TIMEOUT=2s

# Config

Config wraps a decoded document and provides typed accessors that return
a default when a key is missing or has the wrong type:

	cfg, err := config.FromFile("eventbus.yaml")
	timeout := cfg.Duration("eventbus.handler_timeout", 0)
	size := cfg.Int("eventbus.history_size", 1000)

Duration accepts strings ("30s"), numbers (seconds) and time.Duration.
Int accepts float64 values only when they have no fractional part.

Config is safe for concurrent read access.
*/
package config
