package dto

import (
	"regexp"
	"slices"
)

// Commands understood by the API.
const (
	CommandSelect = "select"
	CommandInsert = "insert"
	CommandUpdate = "update"
	CommandDelete = "delete"
)

// BasicCommands lists the commands gated by allow_basic_commands.
var BasicCommands = []string{CommandSelect, CommandInsert, CommandUpdate, CommandDelete}

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.)*[A-Za-z0-9_]+$`)

// Command is a request to run one operation on a table.
//
// Where, Values and Columns hold decoded JSON and are type checked by
// Validate.
type Command struct {
	Command string `json:"command" jsonschema:"enum=select,enum=insert,enum=update,enum=delete,description=Operation to run"`
	Table   string `json:"table" jsonschema:"pattern=^[A-Za-z0-9_]+(\\.)*[A-Za-z0-9_]+$,description=Target table"`
	Where   any    `json:"where,omitempty" jsonschema:"description=List of [column, operator, value] or [join, column, operator, value] clauses"`
	Values  any    `json:"values,omitempty" jsonschema:"description=Object of column values, required for insert and update"`
	Columns any    `json:"columns,omitempty" jsonschema:"description=List of column names returned by select"`
}

// Validate checks the command, the table name and the shape of the optional
// fields.
func (c *Command) Validate() error {
	if !slices.Contains(BasicCommands, c.Command) {
		return invalidField("command", "Bad command")
	}
	if !tableNameRe.MatchString(c.Table) {
		return invalidField("table", "Bad table name, valid: letters, digits, _ and .")
	}
	if c.Where != nil {
		if _, ok := c.Where.([]any); !ok {
			return invalidField("where", "Invalid 'where' syntax")
		}
	}
	if c.Values != nil {
		if _, ok := c.Values.(map[string]any); !ok {
			return invalidField("values", "Invalid 'values' syntax")
		}
	}
	if c.Columns != nil {
		cols, ok := c.Columns.([]any)
		if !ok {
			return invalidField("columns", "Invalid 'columns' syntax")
		}
		for _, col := range cols {
			if _, ok := col.(string); !ok {
				return invalidField("columns", "Invalid 'columns' syntax")
			}
		}
	}
	if c.Command == CommandInsert || c.Command == CommandUpdate {
		if len(c.ValueMap()) == 0 {
			return MissingField("values")
		}
	}
	return nil
}

// WhereEntries returns the where clauses as raw lists. Entries that are not
// lists are returned as nil.
func (c *Command) WhereEntries() [][]any {
	list, _ := c.Where.([]any)
	out := make([][]any, len(list))
	for i, e := range list {
		out[i], _ = e.([]any)
	}
	return out
}

// ValueMap returns Values as an object.
func (c *Command) ValueMap() map[string]any {
	m, _ := c.Values.(map[string]any)
	return m
}

// ColumnNames returns Columns as strings.
func (c *Command) ColumnNames() []string {
	list, _ := c.Columns.([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HealthRequest is a request to check server health.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}
