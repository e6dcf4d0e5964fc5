package runstore

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies schema migrations to dsn. An empty dir uses the bundled
// migrations; otherwise dir is a source URL such as file://migrations.
// direction is "up" or "down"; steps > 0 moves that many versions instead.
func Migrate(dir, dsn, direction string, steps int) error {
	m, err := newMigrator(dir, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	switch strings.ToLower(direction) {
	case "up", "":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func newMigrator(dir, dsn string) (*migrate.Migrate, error) {
	if dir != "" {
		if !strings.Contains(dir, "://") {
			dir = "file://" + dir
		}
		return migrate.New(dir, dsn)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dsn)
}
