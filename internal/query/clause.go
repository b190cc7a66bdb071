package query

import (
	"fmt"
	"slices"
)

// Operator is a comparison operator of a where clause.
type Operator string

// Supported comparison operators.
const (
	OpEqual        Operator = "=="
	OpLessEqual    Operator = "<="
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpGreater      Operator = ">"
)

var operators = []Operator{OpEqual, OpLessEqual, OpGreaterEqual, OpGreater, OpLess}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	return slices.Contains(operators, o)
}

// Join combines a clause with the result of its predecessor.
type Join string

// Supported joins. JoinNone is only valid on the first clause.
const (
	JoinNone Join = ""
	JoinAnd  Join = "and"
	JoinOr   Join = "or"
)

// WhereClause is one filter predicate and its join to the previous one.
type WhereClause struct {
	Join     Join
	Column   string
	Operator Operator
	Value    any
}

func (c WhereClause) String() string {
	return fmt.Sprintf("%s %s %s %v", c.Join, c.Column, c.Operator, c.Value)
}
