package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

type call struct {
	query string
	args  []any
}

// scriptedSQL answers each query with the handler registered for it.
type scriptedSQL struct {
	rows  map[string]func(args []any) pgx.Row
	lists map[string]func(args []any) [][]any
	execs map[string]int64
	calls []call
	txs   int
}

func newScriptedSQL() *scriptedSQL {
	return &scriptedSQL{
		rows:  map[string]func([]any) pgx.Row{},
		lists: map[string]func([]any) [][]any{},
		execs: map[string]int64{},
	}
}

func (s *scriptedSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	n, ok := s.execs[query]
	if !ok {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec")
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n)), nil
}

func (s *scriptedSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	if h, ok := s.rows[query]; ok {
		return h(args)
	}
	return scanFunc(func(...any) error { return fmt.Errorf("unexpected query") })
}

func (s *scriptedSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	h, ok := s.lists[query]
	if !ok {
		return nil, fmt.Errorf("unexpected query")
	}
	return &valueRows{values: h(args)}, nil
}

func (s *scriptedSQL) InTx(_ context.Context, fn func(infra.SQLExecutor) error) error {
	s.txs++
	return fn(s)
}

func (s *scriptedSQL) called(query string) int {
	n := 0
	for _, c := range s.calls {
		if c.query == query {
			n++
		}
	}
	return n
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

func noRows() pgx.Row {
	return scanFunc(func(...any) error { return pgx.ErrNoRows })
}

// values assigns vals to dest pointers in order.
func values(vals ...any) pgx.Row {
	return scanFunc(func(dest ...any) error { return assign(dest, vals) })
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *float64:
			*d = v.(float64)
		case *[]byte:
			*d = v.([]byte)
		case *[]string:
			*d = v.([]string)
		default:
			if v != nil {
				return fmt.Errorf("scan: unsupported destination %T", dest[i])
			}
		}
	}
	return nil
}

type valueRows struct {
	values [][]any
	idx    int
}

func (r *valueRows) Close()                                       {}
func (r *valueRows) Err() error                                   { return nil }
func (r *valueRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *valueRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *valueRows) Values() ([]any, error)                       { return nil, fmt.Errorf("not supported") }
func (r *valueRows) RawValues() [][]byte                          { return nil }
func (r *valueRows) Conn() *pgx.Conn                              { return nil }

func (r *valueRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *valueRows) Scan(dest ...any) error {
	return assign(dest, r.values[r.idx-1])
}
