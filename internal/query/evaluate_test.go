package query

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
)

func TestMatchClause(t *testing.T) {
	row := jsondb.Row{
		"a":     json.Number("5"),
		"s":     "10",
		"name":  "bob",
		"flag":  true,
		"nil":   nil,
		"float": json.Number("2.5"),
		"list":  []any{json.Number("1"), "x"},
	}
	tests := []struct {
		name   string
		clause WhereClause
		want   bool
	}{
		{"greater", WhereClause{Column: "a", Operator: OpGreater, Value: json.Number("3")}, true},
		{"greater false", WhereClause{Column: "a", Operator: OpGreater, Value: json.Number("5")}, false},
		{"greater equal", WhereClause{Column: "a", Operator: OpGreaterEqual, Value: 5}, true},
		{"less", WhereClause{Column: "a", Operator: OpLess, Value: 6.0}, true},
		{"less equal", WhereClause{Column: "a", Operator: OpLessEqual, Value: "4"}, false},
		{"equal numeric string", WhereClause{Column: "a", Operator: OpEqual, Value: "5"}, true},
		{"equal float form", WhereClause{Column: "a", Operator: OpEqual, Value: "5.0"}, true},
		{"equal string to number", WhereClause{Column: "s", Operator: OpEqual, Value: json.Number("10")}, true},
		{"numeric strings", WhereClause{Column: "s", Operator: OpEqual, Value: "1e1"}, true},
		{"string column ordered", WhereClause{Column: "s", Operator: OpGreater, Value: 9}, true},
		{"equal string", WhereClause{Column: "name", Operator: OpEqual, Value: "bob"}, true},
		{"equal string mismatch", WhereClause{Column: "name", Operator: OpEqual, Value: "Bob"}, false},
		{"number vs non numeric string", WhereClause{Column: "a", Operator: OpEqual, Value: "5abc"}, false},
		{"non numeric value ordered", WhereClause{Column: "a", Operator: OpGreater, Value: "abc"}, false},
		{"non numeric value ordered on string", WhereClause{Column: "name", Operator: OpLess, Value: "z"}, false},
		{"absent column", WhereClause{Column: "b", Operator: OpEqual, Value: json.Number("5")}, false},
		{"null column", WhereClause{Column: "nil", Operator: OpEqual, Value: nil}, false},
		{"bool true", WhereClause{Column: "flag", Operator: OpEqual, Value: "yes"}, true},
		{"bool vs zero", WhereClause{Column: "flag", Operator: OpEqual, Value: json.Number("0")}, false},
		{"bool ordered", WhereClause{Column: "flag", Operator: OpGreaterEqual, Value: 1}, true},
		{"float", WhereClause{Column: "float", Operator: OpLess, Value: json.Number("3")}, true},
		{"list equal", WhereClause{Column: "list", Operator: OpEqual, Value: []any{1.0, "x"}}, true},
		{"list ordered", WhereClause{Column: "list", Operator: OpGreater, Value: 1000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchClause(row, tt.clause)
			if err != nil {
				t.Fatalf("matchClause() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("matchClause(%v) = %v, want %v", tt.clause, got, tt.want)
			}
		})
	}
}

func TestEvaluator(t *testing.T) {
	row := jsondb.Row{"a": json.Number("5"), "b": "x"}
	yes := WhereClause{Column: "a", Operator: OpEqual, Value: 5}
	no := WhereClause{Column: "a", Operator: OpEqual, Value: 6}
	with := func(c WhereClause, j Join) WhereClause {
		c.Join = j
		return c
	}

	t.Run("no clauses", func(t *testing.T) {
		got, err := Evaluator{}.Evaluate(row, nil)
		if err != nil || !got {
			t.Errorf("Evaluate() = %v, %v", got, err)
		}
	})

	tests := []struct {
		name    string
		clauses []WhereClause
		want    bool
		fold    bool
	}{
		{"single true", []WhereClause{yes}, true, false},
		{"single false", []WhereClause{no}, false, false},
		{"and", []WhereClause{yes, with(no, JoinAnd)}, false, false},
		{"or", []WhereClause{no, with(yes, JoinOr)}, true, false},
		// Only the first pair decides.
		{"third clause ignored", []WhereClause{yes, with(yes, JoinAnd), with(no, JoinAnd)}, true, false},
		{"third clause folded", []WhereClause{yes, with(yes, JoinAnd), with(no, JoinAnd)}, false, true},
		{"fold or", []WhereClause{no, with(no, JoinAnd), with(yes, JoinOr)}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluator{Fold: tt.fold}.Evaluate(row, tt.clauses)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("invalid operator", func(t *testing.T) {
		bad := WhereClause{Column: "a", Operator: "!=", Value: 5}
		if _, err := (Evaluator{}).Evaluate(row, []WhereClause{bad}); !errors.Is(err, ErrInvalidOperator) {
			t.Errorf("error = %v, want ErrInvalidOperator", err)
		}
	})
	t.Run("invalid operator in ignored clause", func(t *testing.T) {
		bad := WhereClause{Join: JoinAnd, Column: "a", Operator: "=", Value: 5}
		if _, err := (Evaluator{}).Evaluate(row, []WhereClause{yes, with(yes, JoinAnd), bad}); !errors.Is(err, ErrInvalidOperator) {
			t.Errorf("error = %v, want ErrInvalidOperator", err)
		}
	})
	t.Run("invalid join", func(t *testing.T) {
		if _, err := (Evaluator{}).Evaluate(row, []WhereClause{yes, with(yes, "xor")}); !errors.Is(err, ErrInvalidOperator) {
			t.Errorf("error = %v, want ErrInvalidOperator", err)
		}
	})
}

func TestIsNumeric(t *testing.T) {
	for _, v := range []any{1, 2.5, json.Number("3"), "4", " 5 ", "-1.5e3", ".5"} {
		if !IsNumeric(v) {
			t.Errorf("IsNumeric(%#v) = false", v)
		}
	}
	for _, v := range []any{"", "abc", "1a", "0x10", "Inf", "NaN", nil, true, []any{}} {
		if IsNumeric(v) {
			t.Errorf("IsNumeric(%#v) = true", v)
		}
	}
}
