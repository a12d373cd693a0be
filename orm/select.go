package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloesce/cloesce/idl"
)

var (
	ErrUnknownModel      = errors.New("unknown model")
	ErrUnknownDataSource = errors.New("unknown data source")
)

func d1Model(ast *idl.CloesceAst, name string) (*idl.Model, error) {
	m, ok := ast.Models[name]
	if !ok || !m.IsD1() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Tree resolves a data source name of model to its include tree. The "none"
// sentinel and the empty name select no navigation properties.
func Tree(ast *idl.CloesceAst, model, dataSource string) (idl.IncludeTree, error) {
	m, err := d1Model(ast, model)
	if err != nil {
		return nil, err
	}
	if dataSource == "" || dataSource == idl.NoDataSource {
		return nil, nil
	}
	tree, ok := m.DataSources[dataSource]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no data source %q", ErrUnknownDataSource, model, dataSource)
	}
	return tree, nil
}

// ViewName names the view backing a data source, e.g. "Person.withDogs".
func ViewName(model, dataSource string) string {
	return model + "." + dataSource
}

// ViewSelect builds the query flattening tree into one row shape. Every
// column is aliased by its entity path, rooted at the model name, e.g.
// "Person.dogs.name". A nil tree selects the bare table.
func ViewSelect(ast *idl.CloesceAst, model string, tree idl.IncludeTree) (string, error) {
	m, err := d1Model(ast, model)
	if err != nil {
		return "", err
	}
	b := &selectBuilder{ast: ast}
	if err := b.walk(m, m.Name, tree); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(Quote(m.Name))
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	return sb.String(), nil
}

type selectBuilder struct {
	ast   *idl.CloesceAst
	cols  []string
	joins []string
}

func (b *selectBuilder) walk(m *idl.Model, alias string, tree idl.IncludeTree) error {
	for _, f := range fieldNames(m) {
		b.cols = append(b.cols, fmt.Sprintf("%s.%s AS %s", Quote(alias), Quote(f), Quote(alias+"."+f)))
	}
	for _, key := range tree.Keys() {
		nav, ok := m.Navigation(key)
		if !ok {
			return fmt.Errorf("%s has no navigation property %q", m.Name, key)
		}
		target, err := d1Model(b.ast, nav.ModelReference)
		if err != nil {
			return err
		}
		child := alias + "." + key
		switch nav.Kind {
		case idl.OneToOne:
			b.join(target.Name, child, target.PrimaryKey.Name, alias, nav.ColumnReference)
		case idl.OneToMany:
			b.join(target.Name, child, nav.ColumnReference, alias, m.PrimaryKey.Name)
		case idl.ManyToMany:
			junction := child + "$j"
			b.join(nav.UniqueID, junction, JunctionColumn(m), alias, m.PrimaryKey.Name)
			b.join(target.Name, child, target.PrimaryKey.Name, junction, JunctionColumn(target))
		}
		if err := b.walk(target, child, tree[key]); err != nil {
			return err
		}
	}
	return nil
}

func (b *selectBuilder) join(table, alias, col, other, otherCol string) {
	b.joins = append(b.joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
		Quote(table), Quote(alias), Quote(alias), Quote(col), Quote(other), Quote(otherCol)))
}

// fieldNames lists the persisted fields of m, primary key first.
func fieldNames(m *idl.Model) []string {
	names := make([]string, 0, len(m.Columns)+1)
	names = append(names, m.PrimaryKey.Name)
	for _, c := range m.Columns {
		names = append(names, c.Name)
	}
	return names
}

// SelectQuery builds the read for model through dataSource. With byKey the
// query takes the primary key as its only argument.
func SelectQuery(ast *idl.CloesceAst, model, dataSource string, byKey bool) (string, error) {
	tree, err := Tree(ast, model, dataSource)
	if err != nil {
		return "", err
	}
	m := ast.Models[model]
	if tree == nil {
		q, err := ViewSelect(ast, model, nil)
		if err != nil {
			return "", err
		}
		if byKey {
			q += fmt.Sprintf(" WHERE %s.%s = ?", Quote(m.Name), Quote(m.PrimaryKey.Name))
		}
		return q, nil
	}
	q := "SELECT * FROM " + Quote(ViewName(model, dataSource))
	if byKey {
		q += fmt.Sprintf(" WHERE %s = ?", Quote(m.Name+"."+m.PrimaryKey.Name))
	}
	return q, nil
}
