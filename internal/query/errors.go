package query

import "errors"

var (
	// ErrProtectedTable is returned when a command targets a read or write
	// protected table.
	ErrProtectedTable = errors.New("protected table")
	// ErrInvalidClause is returned for a malformed where clause.
	ErrInvalidClause = errors.New("invalid where clause")
	// ErrInvalidOperator is returned for an unsupported comparison or join
	// operator.
	ErrInvalidOperator = errors.New("invalid operator")
)
