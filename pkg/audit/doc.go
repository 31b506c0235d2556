// Package audit keeps a history of repository inspections in a SQL database.
//
// Every inspection, successful or not, becomes one row of the hubcap_inspections table: the
// repository kind and source, the generation it published, record and failure counts, and the
// skipped types and module failures as JSON details. A Store is a repository.Observer, so it
// is attached to a registry with plugins.WithObservers.
//
// PostgreSQL (driver "postgres", github.com/lib/pq) and SQLite (driver "sqlite3",
// github.com/mattn/go-sqlite3) are supported:
//
//	store, err := audit.Open(ctx, "sqlite3", "/var/lib/hubcap/history.db", log)
//	reg, err := plugins.NewRegistry(ctx, cfg.Repositories, plugins.WithObservers(store))
//	entries, err := store.Search(ctx, audit.Filter{Source: "/opt/plugins", Limit: 20})
package audit
