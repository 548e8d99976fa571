package kyc

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	persistence "github.com/goliatone/go-persistence-bun"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

const migrationsDir = "data/sql/migrations"

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

var registerModels sync.Once

// RegisterModels makes the kyc models known to persistence clients created
// afterwards. Fixtures reference models by these names.
func RegisterModels() {
	registerModels.Do(func() {
		persistence.RegisterModel((*Account)(nil))
		persistence.RegisterModel((*AccessToken)(nil))
		persistence.RegisterModel((*Request)(nil))
		persistence.RegisterModel((*ApprovalAction)(nil))
		persistence.RegisterModel((*AuditEntry)(nil))
		persistence.RegisterModel((*MediaFile)(nil))
	})
}

// Migrate registers the embedded per dialect migrations on client and applies
// the pending ones.
func Migrate(ctx context.Context, client *persistence.Client) error {
	migrations, err := fs.Sub(GetMigrationsFS(), migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel(migrationsDir),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}

	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
