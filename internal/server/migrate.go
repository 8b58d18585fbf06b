package server

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given directory.
// dir example: file://migrations
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		err = m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		err = m.Down()
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}
