// Package database provides the SQLite connection that backs the entity
// store: the devices, alerts and vulnerabilities tables plus tombstones and
// change history.
//
// The connection runs in WAL mode with foreign keys on and a single writer.
// Schema changes are embedded .up.sql/.down.sql pairs registered by the
// migrations package and applied with Migrate.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
