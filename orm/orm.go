// Package orm persists and reads Models in the relational store.
//
// Writes are compiled into a single statement batch that the Store runs
// atomically. Reads select from a Model's base table or from one of the
// views generated per data source, then rebuild the object graph from the
// path-qualified columns.
package orm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloesce/cloesce/idl"
)

// ORM binds an IDL document to a store. It holds no mutable state.
type ORM struct {
	ast   *idl.CloesceAst
	store Store
}

// New returns an ORM for the models in ast.
func New(ast *idl.CloesceAst, store Store) *ORM {
	return &ORM{ast: ast, store: store}
}

// Upsert writes obj, a full or partial instance of model, and returns its
// primary key. Nested navigation values are written only where the named
// data source includes them.
func (o *ORM) Upsert(ctx context.Context, model string, obj any, dataSource string) (any, error) {
	tree, err := Tree(o.ast, model, dataSource)
	if err != nil {
		return nil, err
	}
	fields, err := toFields(obj)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", model, err)
	}
	stmts, err := UpsertStatements(o.ast, model, fields, tree)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", model, err)
	}
	results, err := o.store.Batch(ctx, stmts)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", model, err)
	}
	last := results[len(results)-1]
	if len(last) == 0 {
		return nil, fmt.Errorf("upsert %s: no key returned", model)
	}
	return last[0]["id"], nil
}

// Get returns the instance of model with the given primary key, or nil when
// there is none.
func (o *ORM) Get(ctx context.Context, model string, key any, dataSource string) (map[string]any, error) {
	list, err := o.read(ctx, model, dataSource, true, key)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// List returns every instance of model.
func (o *ORM) List(ctx context.Context, model, dataSource string) ([]map[string]any, error) {
	return o.read(ctx, model, dataSource, false)
}

func (o *ORM) read(ctx context.Context, model, dataSource string, byKey bool, args ...any) ([]map[string]any, error) {
	tree, err := Tree(o.ast, model, dataSource)
	if err != nil {
		return nil, err
	}
	q, err := SelectQuery(o.ast, model, dataSource, byKey)
	if err != nil {
		return nil, err
	}
	rows, err := o.store.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", model, err)
	}
	return MapSQL(o.ast, model, rows, tree)
}

// toFields accepts the map form produced by the validator or any value
// with a JSON encoding, such as an instantiated model struct.
func toFields(obj any) (map[string]any, error) {
	if m, ok := obj.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected an object, got %T", obj)
	}
	return m, nil
}
