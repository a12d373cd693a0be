package orm

import (
	"encoding/json"
	"fmt"

	"github.com/cloesce/cloesce/idl"
)

type entity struct {
	fields   map[string]any
	children map[string]*group
}

// group holds the distinct entities found at one path, in first-seen order.
type group struct {
	order []*entity
	byKey map[string]*entity
}

func newGroup() *group { return &group{byKey: make(map[string]*entity)} }

// MapSQL rebuilds the object graph of model from flat rows whose columns
// are named by entity path, as produced by ViewSelect. Entities with equal
// field sets are merged, so a parent repeated over N rows appears once with
// N children. Navigation properties in tree are always set: to-many ones to
// an array, possibly empty, and to-one ones to an object or nil. The others
// are left unset.
func MapSQL(ast *idl.CloesceAst, model string, rows []Row, tree idl.IncludeTree) ([]map[string]any, error) {
	m, err := d1Model(ast, model)
	if err != nil {
		return nil, err
	}
	h := &hydrator{ast: ast}
	root := newGroup()
	for _, row := range rows {
		if err := h.row(m, m.Name, row, tree, root); err != nil {
			return nil, err
		}
	}
	out := make([]map[string]any, len(root.order))
	for i, e := range root.order {
		out[i] = h.build(m, e, tree)
	}
	return out, nil
}

type hydrator struct {
	ast *idl.CloesceAst
}

func (h *hydrator) row(m *idl.Model, prefix string, row Row, tree idl.IncludeTree, g *group) error {
	fields := make(map[string]any, len(m.Columns)+1)
	present := false
	for _, name := range fieldNames(m) {
		v, ok := row[prefix+"."+name]
		if !ok {
			continue
		}
		if v != nil {
			present = true
		}
		t := m.PrimaryKey.Type
		if c, ok := m.Column(name); ok {
			t = c.Type
		}
		cv, err := fromColumn(t, v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", prefix, name, err)
		}
		fields[name] = cv
	}
	// A LEFT JOIN miss yields a row of nulls.
	if !present {
		return nil
	}

	key, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	e, ok := g.byKey[string(key)]
	if !ok {
		e = &entity{fields: fields, children: make(map[string]*group)}
		g.byKey[string(key)] = e
		g.order = append(g.order, e)
	}

	for _, name := range tree.Keys() {
		nav, ok := m.Navigation(name)
		if !ok {
			return fmt.Errorf("%s has no navigation property %q", m.Name, name)
		}
		target, err := d1Model(h.ast, nav.ModelReference)
		if err != nil {
			return err
		}
		child, ok := e.children[name]
		if !ok {
			child = newGroup()
			e.children[name] = child
		}
		if err := h.row(target, prefix+"."+name, row, tree[name], child); err != nil {
			return err
		}
	}
	return nil
}

func (h *hydrator) build(m *idl.Model, e *entity, tree idl.IncludeTree) map[string]any {
	out := make(map[string]any, len(e.fields)+len(tree))
	for k, v := range e.fields {
		out[k] = v
	}
	for _, name := range tree.Keys() {
		nav, _ := m.Navigation(name)
		target := h.ast.Models[nav.ModelReference]
		var children []*entity
		if g := e.children[name]; g != nil {
			children = g.order
		}
		if nav.IsMany() {
			list := make([]any, len(children))
			for i, c := range children {
				list[i] = h.build(target, c, tree[name])
			}
			out[name] = list
			continue
		}
		if len(children) == 0 {
			out[name] = nil
			continue
		}
		out[name] = h.build(target, children[0], tree[name])
	}
	return out
}

// fromColumn converts a stored value back to the shape the validator
// produces for t.
func fromColumn(t idl.CidlType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch idl.StripNullable(t) {
	case idl.Boolean:
		switch b := v.(type) {
		case int64:
			return b != 0, nil
		case bool:
			return b, nil
		}
	case idl.JsonValue:
		var raw []byte
		switch s := v.(type) {
		case string:
			raw = []byte(s)
		case []byte:
			raw = s
		default:
			return v, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	case idl.Text, idl.DateIso:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	}
	return v, nil
}
