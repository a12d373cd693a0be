package orm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cloesce/cloesce/idl"
)

// TempTable holds the keys generated during one upsert batch, addressed by
// the path of the node that generated them.
const TempTable = "_cloesce_tmp"

// sqlValue is an SQL expression plus its arguments.
type sqlValue struct {
	expr string
	args []any
}

func literal(v any) sqlValue { return sqlValue{expr: "?", args: []any{v}} }

func generatedKey(path string) sqlValue {
	return sqlValue{
		expr: fmt.Sprintf("(SELECT %s FROM %s WHERE %s = ?)", Quote("id"), Quote(TempTable), Quote("path")),
		args: []any{path},
	}
}

type upsert struct {
	ast    *idl.CloesceAst
	stmts  []Statement
	newKey func() string
}

// UpsertStatements compiles the writes for obj, a full or partial instance of
// model, into one batch. Navigation values are followed only where tree
// includes them. The last statement is a query returning the root primary
// key in its "id" column.
func UpsertStatements(ast *idl.CloesceAst, model string, obj map[string]any, tree idl.IncludeTree) ([]Statement, error) {
	u := &upsert{ast: ast, newKey: func() string { return ulid.Make().String() }}
	return u.compile(model, obj, tree)
}

func (u *upsert) compile(model string, obj map[string]any, tree idl.IncludeTree) ([]Statement, error) {
	u.stmts = []Statement{
		{SQL: fmt.Sprintf("CREATE TEMP TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s INTEGER)",
			Quote(TempTable), Quote("path"), Quote("id"))},
		{SQL: "DELETE FROM " + Quote(TempTable)},
	}
	key, err := u.node(model, obj, model, tree, nil)
	if err != nil {
		return nil, err
	}
	u.stmts = append(u.stmts, Statement{
		SQL:   fmt.Sprintf("SELECT %s AS %s", key.expr, Quote("id")),
		Args:  key.args,
		Query: true,
	})
	return u.stmts, nil
}

// node writes one entity and the navigation values below it. To-one
// children are written first so their keys can be stored in this node's
// foreign key columns; to-many children follow once this node's key exists.
func (u *upsert) node(name string, obj map[string]any, path string, tree idl.IncludeTree, bound map[string]sqlValue) (sqlValue, error) {
	m, err := d1Model(u.ast, name)
	if err != nil {
		return sqlValue{}, err
	}

	cols := make(map[string]sqlValue)
	for _, c := range m.Columns {
		v, ok := obj[c.Name]
		if !ok {
			continue
		}
		a, err := toArg(c.Type, v)
		if err != nil {
			return sqlValue{}, fmt.Errorf("%s.%s: %w", path, c.Name, err)
		}
		cols[c.Name] = literal(a)
	}
	for k, v := range bound {
		cols[k] = v
	}

	for _, nav := range m.NavigationProperties {
		sub, ok := tree[nav.VarName]
		if !ok || nav.Kind != idl.OneToOne {
			continue
		}
		child, ok := obj[nav.VarName].(map[string]any)
		if !ok {
			continue
		}
		key, err := u.node(nav.ModelReference, child, path+"."+nav.VarName, sub, nil)
		if err != nil {
			return sqlValue{}, err
		}
		cols[nav.ColumnReference] = key
	}

	key, err := u.write(m, obj, path, cols)
	if err != nil {
		return sqlValue{}, err
	}

	for _, nav := range m.NavigationProperties {
		sub, ok := tree[nav.VarName]
		if !ok || !nav.IsMany() {
			continue
		}
		for i, item := range asList(obj[nav.VarName]) {
			child, ok := item.(map[string]any)
			if !ok {
				return sqlValue{}, fmt.Errorf("%s.%s[%d]: expected an object", path, nav.VarName, i)
			}
			childPath := fmt.Sprintf("%s.%s[%d]", path, nav.VarName, i)
			if nav.Kind == idl.OneToMany {
				if _, err := u.node(nav.ModelReference, child, childPath, sub, map[string]sqlValue{nav.ColumnReference: key}); err != nil {
					return sqlValue{}, err
				}
				continue
			}
			childKey, err := u.node(nav.ModelReference, child, childPath, sub, nil)
			if err != nil {
				return sqlValue{}, err
			}
			if err := u.link(m, nav, key, childKey); err != nil {
				return sqlValue{}, err
			}
		}
	}
	return key, nil
}

// write emits the statement for a single node and returns an expression for
// its primary key.
func (u *upsert) write(m *idl.Model, obj map[string]any, path string, cols map[string]sqlValue) (sqlValue, error) {
	pk := m.PrimaryKey
	var names []string
	for _, c := range m.Columns {
		if _, ok := cols[c.Name]; ok {
			names = append(names, c.Name)
		}
	}

	raw, hasKey := obj[pk.Name]
	if raw == nil {
		hasKey = false
	}
	generated := false
	if !hasKey && idl.StripNullable(pk.Type) == idl.Text {
		raw, hasKey, generated = u.newKey(), true, true
	}

	if !hasKey {
		if t := idl.StripNullable(pk.Type); t != idl.Integer {
			return sqlValue{}, fmt.Errorf("%s.%s: a %s primary key cannot be generated and must be supplied", path, pk.Name, t)
		}
		u.insert(m, names, cols, nil, "")
		u.stmts = append(u.stmts, Statement{
			SQL: fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, %s) VALUES (?, last_insert_rowid())",
				Quote(TempTable), Quote("path"), Quote("id")),
			Args: []any{path},
		})
		return generatedKey(path), nil
	}

	a, err := toArg(pk.Type, raw)
	if err != nil {
		return sqlValue{}, fmt.Errorf("%s.%s: %w", path, pk.Name, err)
	}
	key := literal(a)

	switch {
	case generated:
		u.insert(m, names, cols, &key, "")
	case len(names) == len(m.Columns):
		conflict := fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", Quote(pk.Name))
		if len(names) > 0 {
			sets := make([]string, len(names))
			for i, n := range names {
				sets[i] = fmt.Sprintf("%s = excluded.%s", Quote(n), Quote(n))
			}
			conflict = fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", Quote(pk.Name), strings.Join(sets, ", "))
		}
		u.insert(m, names, cols, &key, conflict)
	case len(names) > 0:
		var args []any
		sets := make([]string, len(names))
		for i, n := range names {
			sets[i] = fmt.Sprintf("%s = %s", Quote(n), cols[n].expr)
			args = append(args, cols[n].args...)
		}
		args = append(args, key.args...)
		u.stmts = append(u.stmts, Statement{
			SQL:  fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", Quote(m.Name), strings.Join(sets, ", "), Quote(pk.Name)),
			Args: args,
		})
	}
	return key, nil
}

func (u *upsert) insert(m *idl.Model, names []string, cols map[string]sqlValue, key *sqlValue, suffix string) {
	var quoted, exprs []string
	var args []any
	if key != nil {
		quoted = append(quoted, Quote(m.PrimaryKey.Name))
		exprs = append(exprs, key.expr)
		args = append(args, key.args...)
	}
	for _, n := range names {
		quoted = append(quoted, Quote(n))
		exprs = append(exprs, cols[n].expr)
		args = append(args, cols[n].args...)
	}
	sql := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", Quote(m.Name))
	if len(quoted) > 0 {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(m.Name), strings.Join(quoted, ", "), strings.Join(exprs, ", "))
	}
	u.stmts = append(u.stmts, Statement{SQL: sql + suffix, Args: args})
}

// link records a many-to-many edge in the junction table.
func (u *upsert) link(m *idl.Model, nav idl.NavigationProperty, key, childKey sqlValue) error {
	target, err := d1Model(u.ast, nav.ModelReference)
	if err != nil {
		return err
	}
	self, other := JunctionColumn(m), JunctionColumn(target)
	u.stmts = append(u.stmts, Statement{
		SQL: fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (%s, %s)",
			Quote(nav.UniqueID), Quote(self), Quote(other), key.expr, childKey.expr),
		Args: append(append([]any{}, key.args...), childKey.args...),
	})
	return nil
}

// JunctionColumn names the column of a many-to-many junction table that
// references m.
func JunctionColumn(m *idl.Model) string {
	return m.Name + "." + m.PrimaryKey.Name
}

func asList(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	}
	return nil
}

// toArg converts a validated value to what the store binds for a column of
// type t.
func toArg(t idl.CidlType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch idl.StripNullable(t) {
	case idl.Integer:
		if f, ok := v.(float64); ok && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
	case idl.Boolean:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case idl.DateIso:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano), nil
		}
	case idl.JsonValue:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return v, nil
}
