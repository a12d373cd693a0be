// Package sqlschema emits the relational schema a CloesceAst expects: one
// table per Model in foreign key order, one junction table per many-to-many
// pair and one view per data source.
package sqlschema

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
)

// ColumnType maps a column type to its SQLite storage type.
func ColumnType(t idl.CidlType) (string, error) {
	s, ok := idl.StripNullable(t).(idl.Scalar)
	if !ok {
		return "", fmt.Errorf("%s cannot be stored in a column", t)
	}
	switch s {
	case idl.Integer, idl.Boolean:
		return "INTEGER", nil
	case idl.Real:
		return "REAL", nil
	case idl.Text, idl.DateIso, idl.JsonValue:
		return "TEXT", nil
	case idl.Blob:
		return "BLOB", nil
	}
	return "", fmt.Errorf("%s cannot be stored in a column", t)
}

// Statements returns the DDL for ast in execution order.
func Statements(ast *idl.CloesceAst) ([]string, error) {
	order, err := idl.SortModels(ast)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range order {
		stmt, err := table(ast, ast.Models[name])
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}

	junctions, err := junctionTables(ast, order)
	if err != nil {
		return nil, err
	}
	out = append(out, junctions...)

	for _, name := range order {
		m := ast.Models[name]
		names := make([]string, 0, len(m.DataSources))
		for ds := range m.DataSources {
			names = append(names, ds)
		}
		sort.Strings(names)
		for _, ds := range names {
			q, err := orm.ViewSelect(ast, name, m.DataSources[ds])
			if err != nil {
				return nil, fmt.Errorf("data source %s.%s: %w", name, ds, err)
			}
			out = append(out, fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS %s", orm.Quote(orm.ViewName(name, ds)), q))
		}
	}
	return out, nil
}

// Write renders the DDL for ast as a script.
func Write(w io.Writer, ast *idl.CloesceAst) error {
	stmts, err := Statements(ast)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := fmt.Fprintf(w, "%s;\n\n", s); err != nil {
			return err
		}
	}
	return nil
}

func table(ast *idl.CloesceAst, m *idl.Model) (string, error) {
	pkType, err := ColumnType(m.PrimaryKey.Type)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", m.Name, m.PrimaryKey.Name, err)
	}
	defs := []string{fmt.Sprintf("%s %s PRIMARY KEY", orm.Quote(m.PrimaryKey.Name), pkType)}
	var fks []string
	for _, c := range m.Columns {
		typ, err := ColumnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", m.Name, c.Name, err)
		}
		def := orm.Quote(c.Name) + " " + typ
		if !idl.IsNullable(c.Type) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.ForeignKey == "" {
			continue
		}
		ref, ok := ast.Models[c.ForeignKey]
		if !ok || !ref.IsD1() {
			return "", fmt.Errorf("%s.%s references unknown model %s", m.Name, c.Name, c.ForeignKey)
		}
		fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE RESTRICT ON UPDATE CASCADE",
			orm.Quote(c.Name), orm.Quote(ref.Name), orm.Quote(ref.PrimaryKey.Name)))
	}
	defs = append(defs, fks...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", orm.Quote(m.Name), strings.Join(defs, ",\n  ")), nil
}

func junctionTables(ast *idl.CloesceAst, order []string) ([]string, error) {
	sides := make(map[string][]*idl.Model)
	var ids []string
	for _, name := range order {
		m := ast.Models[name]
		for _, nav := range m.NavigationProperties {
			if nav.Kind != idl.ManyToMany {
				continue
			}
			if _, ok := sides[nav.UniqueID]; !ok {
				ids = append(ids, nav.UniqueID)
			}
			sides[nav.UniqueID] = append(sides[nav.UniqueID], m)
		}
	}
	sort.Strings(ids)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		models := sides[id]
		if len(models) != 2 || models[0].Name == models[1].Name {
			return nil, fmt.Errorf("many to many %q must join two distinct models", id)
		}
		sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
		var defs, keys, fks []string
		for _, m := range models {
			typ, err := ColumnType(m.PrimaryKey.Type)
			if err != nil {
				return nil, err
			}
			col := orm.Quote(orm.JunctionColumn(m))
			defs = append(defs, col+" "+typ+" NOT NULL")
			keys = append(keys, col)
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
				col, orm.Quote(m.Name), orm.Quote(m.PrimaryKey.Name)))
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
		defs = append(defs, fks...)
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", orm.Quote(id), strings.Join(defs, ",\n  ")))
	}
	return out, nil
}
