package query

import (
	"fmt"

	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
)

// Evaluator decides whether a row satisfies a list of where clauses.
//
// By default only the first two clauses take part in the decision: the join
// of the second clause combines the results of the first and the second, and
// later clauses are validated but otherwise ignored. Existing clients rely on
// this, so the full left-to-right fold is opt-in.
type Evaluator struct {
	// Fold combines every clause left to right.
	Fold bool
}

// Evaluate returns true when row satisfies clauses. An empty clause list
// matches every row.
func (e Evaluator) Evaluate(row jsondb.Row, clauses []WhereClause) (bool, error) {
	if len(clauses) == 0 {
		return true, nil
	}
	results := make([]bool, len(clauses))
	for i, c := range clauses {
		ok, err := matchClause(row, c)
		if err != nil {
			return false, err
		}
		results[i] = ok
	}
	if len(clauses) == 1 {
		return results[0], nil
	}
	if !e.Fold {
		return combine(results[0], clauses[1].Join, results[1])
	}
	acc := results[0]
	for i := 1; i < len(clauses); i++ {
		var err error
		if acc, err = combine(acc, clauses[i].Join, results[i]); err != nil {
			return false, err
		}
	}
	return acc, nil
}

func combine(left bool, join Join, right bool) (bool, error) {
	switch join {
	case JoinAnd:
		return left && right, nil
	case JoinOr:
		return left || right, nil
	default:
		return false, fmt.Errorf("%w: join %q", ErrInvalidOperator, string(join))
	}
}

// matchClause evaluates a single clause. A column that is absent or null
// never matches.
func matchClause(row jsondb.Row, c WhereClause) (bool, error) {
	if !c.Operator.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidOperator, string(c.Operator))
	}
	actual, ok := row[c.Column]
	if !ok || actual == nil {
		return false, nil
	}
	if c.Operator == OpEqual {
		return looseEqual(actual, c.Value), nil
	}
	want, ok := toNumber(c.Value)
	if !ok {
		return false, nil
	}
	r := looseCompare(actual, want)
	switch c.Operator {
	case OpLess:
		return r < 0, nil
	case OpLessEqual:
		return r <= 0, nil
	case OpGreater:
		return r > 0, nil
	default:
		return r >= 0, nil
	}
}
