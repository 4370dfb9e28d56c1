package remote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/hazyhaar/tripsync/remote/migrations"
)

// Migrate applies the embedded remote store migrations. The daemon calls this
// at bootstrap when -migrate is set; db must be a database/sql handle (use
// the pgx stdlib driver), goose does not speak the native pgx interface.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("remote: set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("remote: apply migrations: %w", err)
	}
	return nil
}
