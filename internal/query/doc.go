// Package query filters and mutates the tables of a jsondb.Store.
//
// A Query is built with DB.Table, optionally narrowed with Columns and Where,
// and run by one of the terminal methods:
//
//	res, err := db.Table("items").Where("id", "==", 2).Select(ctx)
//
// Where clauses compare loosely: numbers and numeric strings compare as
// numbers, null and booleans compare by truthiness, everything else as
// strings. Ordering operators only match when the clause value is numeric.
package query
