// Package jsondb provides a single-file JSON document store.
//
// # Overview
//
// A [Store] owns one JSON file holding a [Database]: a mapping from table name
// to an ordered list of [Row] values. There is no caching; every operation
// reloads the whole file and mutating operations rewrite the whole file.
//
// # Concurrency: Lock Marker
//
// Mutators serialize through [Store.AcquireLock] and [Store.ReleaseLock]. The
// store holds an in-process mutex and an on-disk marker file created with
// O_EXCL that records the Unix time of acquisition, so separate processes
// sharing the file also exclude each other. A marker older than
// [Options.StaleAfter] belongs to a crashed holder and is reclaimed by the next
// acquirer.
//
// Readers do not take the lock. [Store.Commit] writes to a temporary file and
// renames it over the database, so a reader sees either the old or the new
// content.
//
// # File Format
//
// One JSON object, table name to list of row objects. The reserved table
// [CoreTable] holds the creation timestamp.
package jsondb
