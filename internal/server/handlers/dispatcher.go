package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
	"github.com/Abd0M0hamed/jsdb/internal/query"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
)

// Dispatcher runs validated commands against the store.
type Dispatcher struct {
	store *jsondb.Store
	cfg   *config.Config
}

// NewDispatcher returns a Dispatcher. Protected tables and evaluation flags
// are read from cfg on every command so that reloads take effect.
func NewDispatcher(store *jsondb.Store, cfg *config.Config) *Dispatcher {
	return &Dispatcher{store: store, cfg: cfg}
}

// Store returns the underlying store.
func (d *Dispatcher) Store() *jsondb.Store {
	return d.store
}

// Dispatch validates cmd and runs it.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *dto.Command) (*dto.CommandResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s := d.cfg.Settings()
	if !s.AllowBasicCommands {
		return nil, errNotAllowed
	}
	db := query.New(d.store, d.cfg, query.Evaluator{Fold: s.FoldConditions})
	q := db.Table(cmd.Table)
	if err := addClauses(q, cmd.WhereEntries()); err != nil {
		return nil, err
	}
	res := &dto.CommandResult{Command: cmd.Command, Found: true}
	switch cmd.Command {
	case dto.CommandSelect:
		q.Columns(cmd.ColumnNames()...)
		r, err := q.Select(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, len(r.Rows()))
		for i, row := range r.Rows() {
			rows[i] = row
		}
		res.Select = &dto.SelectResult{Items: r.Items, ItemsCount: r.ItemsCount, Rows: rows}
	case dto.CommandInsert:
		if err := q.Insert(ctx, cmd.ValueMap()); err != nil {
			return nil, err
		}
	case dto.CommandUpdate:
		found, err := q.Update(ctx, cmd.ValueMap())
		if err != nil {
			return nil, err
		}
		res.Found = found
	case dto.CommandDelete:
		found, err := q.Delete(ctx)
		if err != nil {
			return nil, err
		}
		res.Found = found
	}
	slog.DebugContext(ctx, "Dispatched", "command", cmd.Command, "table", cmd.Table, "found", res.Found)
	return res, nil
}

// addClauses adds the where entries of a request to q. An entry has three
// elements (column, operator, value) or four (join, column, operator, value).
// A first entry with four elements and a blank join is accepted as the three
// element form.
func addClauses(q *query.Query, entries [][]any) error {
	for i, e := range entries {
		switch len(e) {
		case 3:
			q.Where(e[0], e[1], e[2])
		case 4:
			if i == 0 {
				if j, ok := e[0].(string); ok && strings.TrimSpace(j) == "" {
					q.Where(e[1], e[2], e[3])
					continue
				}
			}
			q.Where(e[0], e[1], e[2], e[3])
		default:
			return fmt.Errorf("%w: entry %d has %d elements, want 3 or 4", query.ErrInvalidClause, i, len(e))
		}
	}
	return nil
}
