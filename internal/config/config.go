package config

import (
	"time"
)

// Configuration is the root configuration tree for dispatchd. Nested
// sections mirror the subsystems in pkg/workerpool, pkg/dispatcher, and
// internal/services.
//
//go:generate go run github.com/ecordell/optgen -output zz_generated.configuration.go . Configuration Server Pool Dispatcher Reporter Store Auth
type Configuration struct {
	Server     Server     `json:"server" debugmap:"visible"`
	Pool       Pool       `json:"pool" debugmap:"visible"`
	Dispatcher Dispatcher `json:"dispatcher" debugmap:"visible"`
	Reporter   Reporter   `json:"reporter" debugmap:"visible"`
	Store      Store      `json:"store" debugmap:"visible"`
	Auth       Auth       `json:"auth" debugmap:"visible"`
	LogFormat  string     `json:"logFormat" default:"console" debugmap:"visible"`
	LogLevel   string     `json:"logLevel" default:"info" debugmap:"visible"`
}

// Server configures the admin HTTP surface in internal/server.
type Server struct {
	ServerMode string `json:"serverMode" default:"dev" debugmap:"visible"`
	HTTPPort   int    `json:"httpPort" default:"8000" debugmap:"visible"`
}

// Pool configures the reporter's worker pool.
type Pool struct {
	Name string `json:"name" default:"reporter" debugmap:"visible"`
	Size int    `json:"size" default:"4" debugmap:"visible"`
}

// Dispatcher configures the shared endpoint dispatcher.
type Dispatcher struct {
	MaxPerEndpoint     int    `json:"maxPerEndpoint" default:"4" debugmap:"visible"`
	MaxLongPerEndpoint int    `json:"maxLongPerEndpoint" default:"2" debugmap:"visible"`
	OverflowPolicy     string `json:"overflowPolicy" default:"throw" debugmap:"visible"`
	MaxLongWaiters     int    `json:"maxLongWaiters" default:"64" debugmap:"visible"`
}

// Reporter configures the periodic status-reporting service.
type Reporter struct {
	CollectorURL   string        `json:"collectorURL" default:"http://localhost:7443/status" debugmap:"visible"`
	ReportInterval time.Duration `json:"reportInterval" default:"5s" debugmap:"visible"`
	JWTSigningKey  string        `json:"jwtSigningKey" debugmap:"hidden"`
}

// Store configures the DuckDB-backed audit log.
type Store struct {
	DataFolder string `json:"dataFolder" debugmap:"visible"`
}

// Auth configures bearer authentication for the reporter's outgoing
// requests.
type Auth struct {
	Enabled     bool   `json:"enabled" default:"true" debugmap:"visible"`
	JWTFilePath string `json:"jwtFilePath" debugmap:"visible"`
}
