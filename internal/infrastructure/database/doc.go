// Package database owns the SQLite store backing the durable logs:
// raised events and device diagnostic batches. The device registry
// itself lives in Redis; this store is the append-mostly history.
//
// The connection runs in WAL mode so event reads do not block behind
// log writes, with the pool pinned to one connection to match
// SQLite's single-writer model. The database file is created 0600;
// device log rows can carry error text worth keeping private.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/perimeter.db", WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// The schema only ever grows, so migrations are forward-only
// (*.up.sql, one file per step, applied in version order). A bad
// migration is fixed by shipping the next one; there is no rollback
// path to maintain.
package database
