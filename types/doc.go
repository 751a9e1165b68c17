// Package types holds the scalar, row, field and paging types shared by the
// query builder, the executor and the repositories.
package types
