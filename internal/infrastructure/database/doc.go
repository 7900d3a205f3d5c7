// Package database opens the SQLite file behind the restart history and
// brings its schema up to date.
//
// The database is optional. Restart debouncing never reads from it; it is
// an audit trail of fired restarts that survives watchdog restarts.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql and are applied
// once each, in version order, recorded in schema_migrations.
package database
