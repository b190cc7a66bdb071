package jsondb

import "errors"

var (
	// ErrIO is returned when the database or lock file cannot be read, written
	// or removed.
	ErrIO = errors.New("jsondb: i/o error")
	// ErrFormat is returned when the database file content is not a valid
	// serialized database.
	ErrFormat = errors.New("jsondb: invalid database format")
)
