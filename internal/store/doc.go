// Package store implements the persistence layer for dispatchd: an
// append-only audit log of terminal dispatch operations, backed by DuckDB.
//
// Every request submitted through internal/server's POST /fetch that reaches
// a terminal state (Succeeded, Failed, or Cancelled) is recorded as one row
// in dispatch_audit: long requests by the server's auditing delegate,
// synchronous ones by the handler itself. Operations submitted elsewhere
// (such as the reporter's) are not recorded. Writes are fire-and-forget
// from the dispatcher's point of view: a slow or failing audit write never
// blocks slot release.
//
// # Schema
//
//	dispatch_audit (
//	    id          VARCHAR PRIMARY KEY,
//	    endpoint    VARCHAR NOT NULL,
//	    started_at  TIMESTAMP NOT NULL,
//	    finished_at TIMESTAMP NOT NULL,
//	    outcome     VARCHAR NOT NULL,   -- succeeded | failed | cancelled
//	    byte_count  BIGINT NOT NULL,
//	    error_text  VARCHAR
//	)
//
// # Usage
//
//	db, err := store.NewDB(cfg.Store.DataFolder + "/dispatchd.duckdb")
//	s := store.NewStore(db)
//	if err := s.Migrate(ctx); err != nil { ... }
//	err = s.Audit().Append(ctx, store.AuditRecord{...})
//	records, err := s.Audit().List(ctx, store.ByEndpoint("api.example.com:443"), store.WithLimit(50))
package store
