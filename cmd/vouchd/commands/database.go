package commands

import (
	"database/sql"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/db"
	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/logger"
)

// openDatabase opens and migrates the database at the configured path.
// A non-empty override takes precedence over the configuration.
func openDatabase(cfg *config.Config, override string) (*sql.DB, error) {
	path := override
	if path == "" {
		path = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}
