package extractor

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/internal/directive"
)

func (x *extractor) extractPoos() error {
	for _, name := range x.poosOrder {
		td := x.poos[name]
		poo := &idl.PlainOldObject{Name: name, Attributes: []idl.NamedTypedValue{}, SourcePath: td.file.path}
		err := x.eachField(td, func(field *ast.Field, tag directive.FieldTag, fname string) error {
			t, err := x.infer(td.file, field.Type, name+"."+fname)
			if err != nil {
				return err
			}
			poo.Attributes = append(poo.Attributes, idl.NamedTypedValue{Name: fname, Type: t})
			return nil
		})
		if err != nil {
			return err
		}
		x.out.Poos[name] = poo
	}
	return nil
}

// eachField calls fn for every exported, named field of td.
func (x *extractor) eachField(td *typeDecl, fn func(*ast.Field, directive.FieldTag, string) error) error {
	for _, field := range td.st.Fields.List {
		if len(field.Names) == 0 {
			return &Error{
				Kind:    InvalidDirective,
				Pos:     x.fset.Position(field.Pos()),
				Context: td.name() + " cannot embed " + types.ExprString(field.Type),
			}
		}
		tag, err := x.fieldTag(td, field)
		if err != nil {
			return err
		}
		for _, id := range field.Names {
			if !id.IsExported() {
				continue
			}
			name := id.Name
			if tag.JSONName != "" && len(field.Names) == 1 {
				name = tag.JSONName
			}
			if err := fn(field, tag, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *extractor) extractModels() error {
	for _, name := range x.modelOrder {
		m, err := x.extractModel(x.models[name])
		if err != nil {
			return err
		}
		x.out.Models[name] = m
	}
	return nil
}

func (x *extractor) extractModel(td *typeDecl) (*idl.Model, error) {
	name := td.name()
	m := idl.NewModel(name, td.file.path)

	err := x.eachField(td, func(field *ast.Field, tag directive.FieldTag, fname string) error {
		ctx := name + "." + fname
		pos := x.fset.Position(field.Pos())
		snippet := fieldString(field)

		if td.file.isRuntime(field.Type, "IncludeTree") {
			return &Error{Kind: InvalidDataSourceDefinition, Pos: pos, Context: ctx + " is a struct field", Snippet: snippet}
		}
		if tag.Inject {
			return &Error{Kind: InvalidDirective, Pos: pos, Context: ctx + ": only service fields can be injected", Snippet: snippet}
		}

		t, err := x.infer(td.file, field.Type, ctx)
		if err != nil {
			return err
		}

		switch {
		case tag.KV != nil || tag.R2 != nil:
			binding, list := tag.KV, &m.KVObjects
			if tag.R2 != nil {
				binding, list = tag.R2, &m.R2Objects
			}
			if binding.KeyFormat == "" {
				return &Error{Kind: InvalidKeyFormat, Pos: pos, Context: ctx + " has no key format", Snippet: snippet}
			}
			*list = append(*list, idl.ObjectBinding{VarName: fname, Binding: binding.Name, KeyFormat: binding.KeyFormat, Type: t})

		case tag.KeyParam:
			if t != idl.Text {
				return &Error{Kind: InvalidKeyParam, Pos: pos, Context: ctx, Snippet: snippet}
			}
			m.KeyParams = append(m.KeyParams, fname)

		case tag.IsNavigation():
			nav, err := x.navigation(tag, t, fname)
			if err != nil {
				err.Pos, err.Context, err.Snippet = pos, ctx+err.Context, snippet
				return err
			}
			m.NavigationProperties = append(m.NavigationProperties, *nav)

		case tag.PrimaryKey:
			if m.PrimaryKey != nil {
				return &Error{Kind: TooManyPrimaryKeys, Pos: pos, Context: ctx, Snippet: snippet}
			}
			if idl.IsNullable(t) {
				return &Error{Kind: NullablePrimaryKey, Pos: pos, Context: ctx, Snippet: snippet}
			}
			if !idl.IsSQLScalar(t) {
				return &Error{Kind: InvalidColumnType, Pos: pos, Context: ctx, Snippet: snippet}
			}
			m.PrimaryKey = &idl.NamedTypedValue{Name: fname, Type: t}

		default:
			if !idl.IsSQLScalar(t) {
				return &Error{Kind: InvalidColumnType, Pos: pos, Context: ctx + " is " + t.String(), Snippet: snippet}
			}
			m.Columns = append(m.Columns, idl.Column{Name: fname, Type: t, ForeignKey: tag.ForeignKey})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pos := x.fset.Position(td.spec.Pos())
	if m.PrimaryKey == nil && len(m.KeyParams) == 0 {
		return nil, &Error{Kind: MissingPrimaryKey, Pos: pos, Context: name}
	}
	if m.PrimaryKey == nil && (len(m.Columns) > 0 || len(m.NavigationProperties) > 0) {
		return nil, &Error{Kind: MissingPrimaryKey, Pos: pos, Context: name + " has columns but no primary key"}
	}

	if crud, ok := td.dir.Options["crud"]; ok {
		for _, c := range strings.Split(crud, ",") {
			kind := idl.CrudKind(strings.TrimSpace(c))
			switch kind {
			case idl.CrudGet, idl.CrudList, idl.CrudSave:
			default:
				return nil, &Error{Kind: InvalidDirective, Pos: td.dir.Pos, Context: fmt.Sprintf("%s: unknown crud kind %q", name, kind)}
			}
			if !m.IsD1() {
				return nil, &Error{Kind: InvalidDirective, Pos: td.dir.Pos, Context: name + ": crud requires a primary key"}
			}
			if !m.HasCrud(kind) {
				m.Cruds = append(m.Cruds, kind)
			}
		}
	}

	if err := x.checkKeyFormats(m, pos); err != nil {
		return nil, err
	}
	return m, nil
}

// navigation builds a navigation property from its tag and inferred type.
// The caller fills in position and context.
func (x *extractor) navigation(tag directive.FieldTag, t idl.CidlType, fname string) (*idl.NavigationProperty, *Error) {
	nav := &idl.NavigationProperty{VarName: fname}
	switch {
	case tag.OneToOne != "":
		obj, ok := idl.StripNullable(t).(idl.Object)
		if !ok {
			return nil, &Error{Kind: InvalidNavigationPropertyReference, Context: ": one_to_one must be a model or pointer to one"}
		}
		nav.Kind, nav.ModelReference, nav.ColumnReference = idl.OneToOne, obj.Name, tag.OneToOne
	default:
		arr, ok := t.(idl.Array)
		obj, isObj := arr.Elem.(idl.Object)
		if !ok || !isObj {
			return nil, &Error{Kind: InvalidNavigationPropertyReference, Context: ": to-many navigation must be a slice of models"}
		}
		nav.ModelReference = obj.Name
		if tag.OneToMany != "" {
			nav.Kind, nav.ColumnReference = idl.OneToMany, tag.OneToMany
		} else {
			if tag.UniqueID == "" {
				return nil, &Error{Kind: MissingManyToManyUniqueId}
			}
			nav.Kind, nav.UniqueID = idl.ManyToMany, tag.UniqueID
		}
	}
	if _, ok := x.models[nav.ModelReference]; !ok {
		return nil, &Error{Kind: UnknownNavigationPropertyReference, Context: ": " + nav.ModelReference + " is not a model"}
	}
	return nav, nil
}

func (x *extractor) checkKeyFormats(m *idl.Model, pos token.Position) error {
	allowed := make(map[string]bool)
	for _, k := range m.KeyParams {
		allowed[k] = true
	}
	if m.PrimaryKey != nil {
		allowed[m.PrimaryKey.Name] = true
	}
	bindings := append(append([]idl.ObjectBinding{}, m.KVObjects...), m.R2Objects...)
	for _, b := range bindings {
		names, ok := placeholders(b.KeyFormat)
		if !ok {
			return &Error{Kind: InvalidKeyFormat, Pos: pos, Context: m.Name + "." + b.VarName + ": unbalanced braces", Snippet: b.KeyFormat}
		}
		for _, n := range names {
			if !allowed[n] {
				return &Error{Kind: InvalidKeyFormat, Pos: pos, Context: fmt.Sprintf("%s.%s: {%s}", m.Name, b.VarName, n), Snippet: b.KeyFormat}
			}
		}
	}
	return nil
}

// placeholders returns the {name} references in a key format.
func placeholders(format string) ([]string, bool) {
	var names []string
	for {
		open := strings.IndexByte(format, '{')
		closing := strings.IndexByte(format, '}')
		if open < 0 {
			return names, closing < 0
		}
		if closing < open {
			return nil, false
		}
		name := format[open+1 : closing]
		if name == "" || strings.ContainsRune(name, '{') {
			return nil, false
		}
		names = append(names, name)
		format = format[closing+1:]
	}
}

// validateReferences resolves foreign keys and navigation properties once
// every model has been extracted.
func (x *extractor) validateReferences() error {
	for _, name := range x.modelOrder {
		m := x.out.Models[name]
		pos := x.fset.Position(x.models[name].spec.Pos())

		for _, col := range m.Columns {
			if col.ForeignKey == "" {
				continue
			}
			ctx := name + "." + col.Name
			target, ok := x.out.Models[col.ForeignKey]
			if !ok || !target.IsD1() {
				return &Error{Kind: UnknownNavigationPropertyReference, Pos: pos, Context: ctx + " references " + col.ForeignKey}
			}
			if !idl.Equal(idl.StripNullable(col.Type), target.PrimaryKey.Type) {
				return &Error{
					Kind:    InvalidNavigationPropertyReference,
					Pos:     pos,
					Context: fmt.Sprintf("%s is %s but %s.%s is %s", ctx, col.Type, target.Name, target.PrimaryKey.Name, target.PrimaryKey.Type),
				}
			}
		}

		for _, nav := range m.NavigationProperties {
			ctx := name + "." + nav.VarName
			target := x.out.Models[nav.ModelReference]
			if !target.IsD1() {
				return &Error{Kind: UnknownNavigationPropertyReference, Pos: pos, Context: ctx + ": " + target.Name + " has no primary key"}
			}
			switch nav.Kind {
			case idl.OneToOne:
				col, ok := m.Column(nav.ColumnReference)
				if !ok {
					return &Error{Kind: MissingNavigationPropertyReference, Pos: pos, Context: ctx + ": " + name + "." + nav.ColumnReference}
				}
				if col.ForeignKey != target.Name {
					return &Error{Kind: InvalidNavigationPropertyReference, Pos: pos, Context: fmt.Sprintf("%s: %s.%s does not reference %s", ctx, name, col.Name, target.Name)}
				}
			case idl.OneToMany:
				col, ok := target.Column(nav.ColumnReference)
				if !ok {
					return &Error{Kind: MissingNavigationPropertyReference, Pos: pos, Context: ctx + ": " + target.Name + "." + nav.ColumnReference}
				}
				if col.ForeignKey != name {
					return &Error{Kind: InvalidNavigationPropertyReference, Pos: pos, Context: fmt.Sprintf("%s: %s.%s does not reference %s", ctx, target.Name, col.Name, name)}
				}
			case idl.ManyToMany:
				if err := x.checkManyToMany(m, nav, pos); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkManyToMany requires exactly one edge with the same unique id on the
// referenced model, pointing back. The two models must differ: a junction
// table has one column per side, named after its model.
func (x *extractor) checkManyToMany(m *idl.Model, nav idl.NavigationProperty, pos token.Position) error {
	if nav.ModelReference == m.Name {
		return &Error{
			Kind:    MismatchedManyToMany,
			Pos:     pos,
			Context: fmt.Sprintf("%s.%s: %q joins %s to itself", m.Name, nav.VarName, nav.UniqueID, m.Name),
		}
	}
	var matches []string
	for _, name := range x.modelOrder {
		other := x.out.Models[name]
		for _, o := range other.NavigationProperties {
			if o.Kind != idl.ManyToMany || o.UniqueID != nav.UniqueID {
				continue
			}
			if other.Name == m.Name && o.VarName == nav.VarName {
				continue
			}
			matches = append(matches, other.Name+"."+o.VarName)
			if other.Name != nav.ModelReference || o.ModelReference != m.Name {
				return &Error{
					Kind:    MismatchedManyToMany,
					Pos:     pos,
					Context: fmt.Sprintf("%s.%s and %s.%s share %q", m.Name, nav.VarName, other.Name, o.VarName, nav.UniqueID),
				}
			}
		}
	}
	if len(matches) != 1 {
		return &Error{
			Kind:    MismatchedManyToMany,
			Pos:     pos,
			Context: fmt.Sprintf("%s.%s: %d matching edges for %q", m.Name, nav.VarName, len(matches), nav.UniqueID),
		}
	}
	return nil
}

func fieldString(field *ast.Field) string {
	var names []string
	for _, n := range field.Names {
		names = append(names, n.Name)
	}
	s := strings.Join(names, ", ") + " " + types.ExprString(field.Type)
	if field.Tag != nil {
		s += " " + field.Tag.Value
	}
	return s
}
