// Package database provides connection management on top of Bun, the
// statement executor used by repositories, query hooks, the migration
// ledger, configuration types, logging and health checks.
package database
