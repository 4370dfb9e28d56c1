package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and
// pgx.Tx. Accepting the interface instead of the pool lets integration tests
// pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// allowedTables whitelists the remote tables the client will touch. Table
// names are interpolated into SQL, so anything outside this set is rejected
// before a query is built.
var allowedTables = map[string]bool{
	"profiles":       true,
	"trips":          true,
	"rated_features": true,
}

// Postgres is the production Store implementation.
type Postgres struct {
	db db
}

// NewPostgres constructs a Store backed by the provided connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx.
func NewPostgres(conn db) *Postgres {
	return &Postgres{db: conn}
}

func checkTable(table string) error {
	if !allowedTables[table] {
		return fmt.Errorf("remote: unknown table %q", table)
	}
	return nil
}

// Insert writes a new row. A primary-key collision surfaces as
// ErrUniqueViolation so the orchestrator can apply upsert recovery.
func (p *Postgres) Insert(ctx context.Context, table string, rec Record) error {
	if err := checkTable(table); err != nil {
		return err
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, payload, updated_at)
		VALUES (@id, @owner_id, @payload, @updated_at)`, table)

	_, err := p.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         rec.Key,
		"owner_id":   rec.OwnerID,
		"payload":    rec.Payload,
		"updated_at": rec.UpdatedAt,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("remote: insert %s/%s: %w", table, rec.Key, ErrUniqueViolation)
		}
		return fmt.Errorf("remote: insert %s/%s: %w", table, rec.Key, err)
	}
	return nil
}

// Update overwrites the row with the given key.
func (p *Postgres) Update(ctx context.Context, table string, key string, rec Record) error {
	if err := checkTable(table); err != nil {
		return err
	}
	q := fmt.Sprintf(`
		UPDATE %s
		SET owner_id   = @owner_id,
		    payload    = @payload,
		    updated_at = @updated_at
		WHERE id = @id`, table)

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         key,
		"owner_id":   rec.OwnerID,
		"payload":    rec.Payload,
		"updated_at": rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("remote: update %s/%s: %w", table, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remote: update %s/%s: %w", table, key, ErrNotFound)
	}
	return nil
}

// Delete removes the row with the given key. Deleting an absent row is not
// an error — delete mutations must be idempotent across retried passes.
func (p *Postgres) Delete(ctx context.Context, table string, key string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = @id`, table)
	if _, err := p.db.Exec(ctx, q, pgx.NamedArgs{"id": key}); err != nil {
		return fmt.Errorf("remote: delete %s/%s: %w", table, key, err)
	}
	return nil
}

// SelectByOwner returns every row owned by ownerID, oldest update first.
func (p *Postgres) SelectByOwner(ctx context.Context, table string, ownerID string) ([]Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT id, owner_id, payload, updated_at
		FROM %s
		WHERE owner_id = @owner_id
		ORDER BY updated_at ASC`, table)

	rows, err := p.db.Query(ctx, q, pgx.NamedArgs{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("remote: select %s by owner %s: %w", table, ownerID, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.OwnerID, &r.Payload, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("remote: select %s: scan: %w", table, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remote: select %s: rows: %w", table, err)
	}
	return recs, nil
}
