// Package config defines the configuration structure for dispatchd.
//
// Configuration is organized into logical sections (Server, Pool, Dispatcher,
// Reporter, Store, Auth) and uses code generation via optgen to create
// functional option helpers.
//
// # Configuration Structure
//
//	Configuration
//	├── Server     - admin HTTP surface settings
//	├── Pool       - reporter worker pool sizing
//	├── Dispatcher - endpoint dispatcher limits
//	├── Reporter   - periodic status-reporting service
//	├── Store      - DuckDB audit log location
//	├── Auth       - bearer authentication settings
//	├── LogFormat  - logging format
//	└── LogLevel   - logging verbosity
//
// # Server Configuration
//
//	┌────────────┬─────────┬────────────────────────────────────────┐
//	│ Field      │ Default │ Description                            │
//	├────────────┼─────────┼────────────────────────────────────────┤
//	│ ServerMode │ "dev"   │ Server mode: "prod" or "dev"            │
//	│ HTTPPort   │ 8000    │ HTTP server listen port                 │
//	└────────────┴─────────┴────────────────────────────────────────┘
//
// # Pool Configuration
//
//	┌────────┬────────────┬────────────────────────────────────────┐
//	│ Field  │ Default    │ Description                            │
//	├────────┼────────────┼────────────────────────────────────────┤
//	│ Name   │ "reporter" │ Pool name                               │
//	│ Size   │ 4          │ Fixed worker capacity                   │
//	└────────┴────────────┴────────────────────────────────────────┘
//
// # Dispatcher Configuration
//
//	┌────────────────────┬─────────┬────────────────────────────────────────┐
//	│ Field               │ Default │ Description                            │
//	├────────────────────┼─────────┼────────────────────────────────────────┤
//	│ MaxPerEndpoint      │ 4       │ M: concurrent requests per endpoint     │
//	│ MaxLongPerEndpoint  │ 2       │ L: concurrent long requests per endpoint│
//	│ OverflowPolicy      │ "throw" │ "throw", "fail", or "enqueue"          │
//	│ MaxLongWaiters      │ 64      │ Enqueue policy waiter queue depth       │
//	└────────────────────┴─────────┴────────────────────────────────────────┘
//
// # Reporter Configuration
//
//	┌────────────────┬────────────────────────────────┬──────────────────────┐
//	│ Field          │ Default                        │ Description          │
//	├────────────────┼────────────────────────────────┼──────────────────────┤
//	│ CollectorURL   │ "http://localhost:7443/status" │ Status push target   │
//	│ ReportInterval │ 5s                              │ Push frequency       │
//	│ JWTSigningKey  │ ""                              │ Bearer signing key   │
//	└────────────────┴────────────────────────────────┴──────────────────────┘
//
// # Authentication Configuration
//
//	┌─────────────┬─────────┬────────────────────────────────────────┐
//	│ Field       │ Default │ Description                            │
//	├─────────────┼─────────┼────────────────────────────────────────┤
//	│ Enabled     │ true    │ Attach a bearer token to reporter calls │
//	│ JWTFilePath │ ""      │ Path to a JWT token file                │
//	└─────────────┴─────────┴────────────────────────────────────────┘
//
// # Code Generation
//
// The package uses optgen to generate functional option helpers:
//
//	//go:generate go run github.com/ecordell/optgen -output zz_generated.configuration.go . Configuration Server Pool Dispatcher Reporter Store Auth
//
// Generated helpers include:
//
//   - NewConfigurationWithOptions(...ConfigurationOption) - Create with options
//   - NewConfigurationWithOptionsAndDefaults(...ConfigurationOption) - Create with defaults + options
//   - WithServer(Server), WithPool(Pool), etc. - Set nested structs
//   - DebugMap() - Returns map for debug logging (respects debugmap tags)
//
// # Usage Example
//
// Create configuration with defaults and overrides:
//
//	cfg := config.NewConfigurationWithOptionsAndDefaults(
//	    config.WithServer(config.Server{
//	        ServerMode: "prod",
//	        HTTPPort:   8080,
//	    }),
//	    config.WithDispatcher(config.Dispatcher{
//	        MaxPerEndpoint:     8,
//	        MaxLongPerEndpoint: 3,
//	        OverflowPolicy:     "enqueue",
//	    }),
//	    config.WithLogLevel("debug"),
//	)
//
// Or create with individual options:
//
//	pool := config.NewPoolWithOptionsAndDefaults(
//	    config.WithSize(8),
//	)
//
// # Debug Logging
//
// Fields are tagged with `debugmap:"visible"` allowing safe logging of
// configuration values via DebugMap(); the reporter's signing key is tagged
// `debugmap:"hidden"` and omitted.
//
//	log.Info("configuration loaded", zap.Any("config", cfg.DebugMap()))
package config
