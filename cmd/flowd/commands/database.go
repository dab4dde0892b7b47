package commands

import (
	"database/sql"

	"github.com/teranos/flowd/config"
	"github.com/teranos/flowd/db"
	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/logger"
)

// openDatabase opens and migrates the shared job database. If dbPath is
// empty the path comes from flowd configuration. Uses logger.Logger for
// db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "flowd.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
