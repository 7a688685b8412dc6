// Package server provides the admin/demo HTTP surface for dispatchd.
//
// The server uses the Gin web framework and supports two modes of
// operation: development (plain HTTP) and production (HTTPS with an
// auto-generated self-signed certificate), selected by Configuration.Server.
//
// # Architecture Overview
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                         HTTP Server                           │
//	├───────────────────────────────────────────────────────────────┤
//	│  Production Mode (TLS)          Development Mode              │
//	│  ┌─────────────────────┐        ┌─────────────────────┐       │
//	│  │ HTTPS :httpPort      │        │ HTTP :httpPort       │       │
//	│  │ Self-signed cert     │        │ No TLS               │       │
//	│  └─────────────────────┘        └─────────────────────┘       │
//	├───────────────────────────────────────────────────────────────┤
//	│                       Middleware Stack                        │
//	│   zap request logger, ginzap.RecoveryWithZap panic recovery   │
//	├───────────────────────────────────────────────────────────────┤
//	│                       Router (/api/v1)                        │
//	│   GET  /pools/:name        worker pool introspection          │
//	│   GET  /endpoints/:key     endpoint admission introspection   │
//	│   POST /fetch              submit a request through Dispatcher│
//	│   GET  /operations/:id     poll a long-running operation      │
//	└───────────────────────────────────────────────────────────────┘
//
// Every request dispatched through POST /fetch is recorded as one
// dispatch_audit row via internal/store once it reaches a terminal state,
// exercising the persistence layer from the admin surface.
package server
