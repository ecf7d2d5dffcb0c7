package migrate

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // SQLite driver.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var migrations embed.FS

// Run applies all pending schema migrations to the SQLite database at path.
// It is safe to call on every open; an up-to-date schema is a no-op.
func Run(log logrus.FieldLogger, path string) error {
	log = log.WithField("component", "migrate")

	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer mig.Close()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, _, _ := mig.Version()
	log.WithField("version", version).Debug("Schema up to date")

	return nil
}
