// Package stores persists imports in SQLite. An import row records where a
// worksheet came from and how it ended; its accepted data rows and the
// policy issues found in rejected rows are kept alongside and removed with
// it. Schema migrations are embedded and applied with golang-migrate.
package stores
