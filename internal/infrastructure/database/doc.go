// Package database provides the SQLite store used for the bridge's poll and
// command history.
//
// It manages the connection (WAL mode, busy timeout, single writer) and
// versioned schema migrations recorded in schema_migrations.
//
// The store is an audit trail only. Nothing in it is read back into the
// polling coordinator at startup.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are registered by importing the migrations package for its
// side effect:
//
//	import _ "github.com/nerrad567/allnet-bridge/migrations"
package database
