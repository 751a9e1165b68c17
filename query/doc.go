// Package query builds parameterized SQL fragments and SELECT statements.
// Values always travel through positional $k placeholders; identifiers are
// taken verbatim and must only ever be static column or table names.
package query
