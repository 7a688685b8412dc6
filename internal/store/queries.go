package store

const (
	queryCreateAuditTable = `
		CREATE TABLE IF NOT EXISTS dispatch_audit (
			id          VARCHAR PRIMARY KEY,
			endpoint    VARCHAR NOT NULL,
			started_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			outcome     VARCHAR NOT NULL,
			byte_count  BIGINT NOT NULL,
			error_text  VARCHAR
		)`

	queryInsertAuditRecord = `
		INSERT INTO dispatch_audit
			(id, endpoint, started_at, finished_at, outcome, byte_count, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetAuditRecord = `
		SELECT id, endpoint, started_at, finished_at, outcome, byte_count, error_text
		FROM dispatch_audit WHERE id = ?`
)
