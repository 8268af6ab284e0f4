// Package store provides the durable task table behind SyncKeeper's work queue.
//
// Tasks live in a single local table keyed by task id. SQLite is the default
// backend; a Postgres DSN selects the Postgres backend with the same schema.
package store

import (
	"strings"

	"github.com/BTreeMap/SyncKeeper/internal/clock"
)

// Driver names registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Opts holds store configuration.
type Opts struct {
	DSN    string
	Driver string
	Clock  clock.Clock
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the Postgres backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// WithDSN picks the backend from the shape of dsn.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		if DetectDSNType(dsn) == "postgres" {
			o.Driver = DriverPostgres
		} else {
			o.Driver = DriverSQLite
		}
	}
}

// WithDriver sets the SQL dialect for a store built around an existing handle.
func WithDriver(driver string) Option {
	return func(o *Opts) { o.Driver = driver }
}

// WithClock injects the time source used for creation timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// DetectDSNType returns "postgres" for Postgres URLs or key/value DSNs and
// "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return "postgres"
	}
	return "sqlite"
}
