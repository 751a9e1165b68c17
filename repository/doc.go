// Package repository provides a generic CRUD repository that turns typed
// create and update payloads into parameterized SQL, with pagination, bulk
// inserts and caller-owned transactions.
package repository
