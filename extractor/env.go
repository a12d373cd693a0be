package extractor

import (
	"go/ast"
	"go/token"
	"go/types"
	"strconv"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/internal/directive"
)

func (x *extractor) extractEnv() error {
	switch len(x.envs) {
	case 0:
		return &Error{Kind: MissingWranglerEnv}
	case 1:
	default:
		return &Error{
			Kind:    TooManyWranglerEnvs,
			Pos:     x.fset.Position(x.envs[1].spec.Pos()),
			Context: x.envs[0].name() + ", " + x.envs[1].name(),
		}
	}

	td := x.envs[0]
	env := &idl.WranglerEnv{
		Name:       td.name(),
		SourcePath: td.file.path,
		D1Bindings: []string{},
		KVBindings: []string{},
		R2Bindings: []string{},
		Vars:       []idl.NamedTypedValue{},
	}

	for _, field := range td.st.Fields.List {
		if len(field.Names) == 0 {
			return &Error{Kind: InvalidDirective, Pos: x.fset.Position(field.Pos()), Context: env.Name + " cannot embed fields"}
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
			if tag.JSONName != "" {
				name = tag.JSONName
			}
			typ := field.Type
			if star, ok := typ.(*ast.StarExpr); ok {
				typ = star.X
			}
			switch {
			case td.file.isRuntime(typ, "D1Database"):
				env.D1Bindings = append(env.D1Bindings, name)
			case td.file.isRuntime(typ, "KVNamespace"):
				env.KVBindings = append(env.KVBindings, name)
			case td.file.isRuntime(typ, "R2Bucket"):
				env.R2Bindings = append(env.R2Bindings, name)
			default:
				t, err := x.infer(td.file, field.Type, env.Name+"."+name)
				if err != nil {
					return err
				}
				if _, ok := idl.StripNullable(t).(idl.Scalar); !ok {
					return x.typeError(UnknownType, td.file, field.Type, env.Name+"."+name)
				}
				env.Vars = append(env.Vars, idl.NamedTypedValue{Name: name, Type: t})
			}
		}
	}

	if len(env.D1Bindings)+len(env.KVBindings)+len(env.R2Bindings) == 0 {
		return &Error{Kind: MissingDatabaseBinding, Pos: x.fset.Position(td.spec.Pos()), Context: env.Name}
	}
	x.out.WranglerEnv = env
	return nil
}

// isEnv reports whether expr names the environment type (or a pointer to it).
func (x *extractor) isEnv(expr ast.Expr) bool {
	return x.out.WranglerEnv != nil && typeName(expr) == x.out.WranglerEnv.Name
}

func (x *extractor) extractDataSources() error {
	for _, vd := range x.sources {
		if err := x.extractDataSource(vd); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) extractDataSource(vd *varDecl) error {
	pos := x.fset.Position(vd.spec.Pos())
	invalid := func(context string) error {
		return &Error{Kind: InvalidDataSourceDefinition, Pos: pos, Context: context, Snippet: specString(vd.spec)}
	}

	owner := vd.dir.Arg(0)
	model, ok := x.out.Models[owner]
	if !ok {
		return invalid("unknown model " + strconv.Quote(owner))
	}
	if vd.gen.Tok != token.VAR {
		return invalid("data sources must be declared with var")
	}
	if len(vd.spec.Names) != 1 {
		return invalid("declare one data source per var")
	}
	if vd.spec.Type == nil || !vd.file.isRuntime(vd.spec.Type, "IncludeTree") {
		return invalid("data sources must be typed cloesce.IncludeTree")
	}
	if len(vd.spec.Values) != 1 {
		return invalid("data sources need an initializer")
	}
	if !model.IsD1() {
		return invalid(owner + " has no primary key")
	}

	name := vd.spec.Names[0].Name
	if n, ok := vd.dir.Options["name"]; ok {
		name = n
	}
	if !ast.IsExported(vd.spec.Names[0].Name) {
		return &Error{Kind: MissingExport, Pos: pos, Context: vd.spec.Names[0].Name}
	}
	if name == "" || name == idl.NoDataSource {
		return invalid(strconv.Quote(name) + " is a reserved data source name")
	}
	if _, dup := model.DataSources[name]; dup {
		return &Error{Kind: DuplicateDefinition, Pos: pos, Context: owner + "." + name}
	}

	tree, err := x.includeTree(vd.file, vd.spec.Values[0])
	if err != nil {
		return err
	}
	if err := x.validateTree(model, tree, owner+"."+name); err != nil {
		return err
	}
	model.DataSources[name] = tree
	return nil
}

// includeTree converts a composite literal of string keys into a tree.
func (x *extractor) includeTree(f *file, expr ast.Expr) (idl.IncludeTree, error) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok || (lit.Type != nil && !f.isRuntime(lit.Type, "IncludeTree")) {
		return nil, &Error{
			Kind:    InvalidDataSourceDefinition,
			Pos:     x.fset.Position(expr.Pos()),
			Context: "include trees must be cloesce.IncludeTree literals",
			Snippet: types.ExprString(expr),
		}
	}
	tree := idl.IncludeTree{}
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return nil, x.literalError(elt)
		}
		key, ok := kv.Key.(*ast.BasicLit)
		if !ok || key.Kind != token.STRING {
			return nil, x.literalError(kv.Key)
		}
		k, err := strconv.Unquote(key.Value)
		if err != nil {
			return nil, x.literalError(kv.Key)
		}
		sub, err := x.includeTree(f, kv.Value)
		if err != nil {
			return nil, err
		}
		tree[k] = sub
	}
	return tree, nil
}

func (x *extractor) literalError(expr ast.Expr) error {
	return &Error{
		Kind:    InvalidDataSourceDefinition,
		Pos:     x.fset.Position(expr.Pos()),
		Context: "include tree entries must be \"name\": {...}",
		Snippet: types.ExprString(expr),
	}
}

// validateTree checks every key against the navigation properties of the
// model it is rooted on, recursing into the referenced models.
func (x *extractor) validateTree(model *idl.Model, tree idl.IncludeTree, path string) error {
	for _, key := range tree.Keys() {
		nav, ok := model.Navigation(key)
		if !ok {
			return &Error{
				Kind:    InvalidIncludeTree,
				Pos:     x.fset.Position(x.models[model.Name].spec.Pos()),
				Context: path + ": " + model.Name + " has no navigation property " + strconv.Quote(key),
			}
		}
		if err := x.validateTree(x.out.Models[nav.ModelReference], tree[key], path+"."+key); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) extractApp() error {
	perFile := make(map[*file]int)
	for _, vd := range x.apps {
		perFile[vd.file]++
	}
	for _, vd := range x.apps {
		pos := x.fset.Position(vd.spec.Pos())
		switch {
		case perFile[vd.file] > 1:
			return &Error{Kind: AppMissingDefaultExport, Pos: pos, Context: "more than one app in " + vd.file.path}
		case vd.gen.Tok != token.VAR || len(vd.spec.Names) != 1 || len(vd.spec.Values) != 1:
			return &Error{Kind: AppMissingDefaultExport, Pos: pos, Snippet: specString(vd.spec)}
		case !vd.spec.Names[0].IsExported():
			return &Error{Kind: MissingExport, Pos: pos, Context: vd.spec.Names[0].Name}
		case x.out.AppSource != "":
			return &Error{Kind: DuplicateDefinition, Pos: pos, Context: "app already declared in " + x.out.AppSource}
		}
		x.out.AppSource = vd.file.path
	}
	return nil
}

// fieldTag parses the tag of field, reporting malformed tags as directive
// errors.
func (x *extractor) fieldTag(td *typeDecl, field *ast.Field) (directive.FieldTag, error) {
	if field.Tag == nil {
		return directive.FieldTag{}, nil
	}
	tag, err := directive.ParseTag(field.Tag.Value)
	if err != nil {
		return tag, &Error{
			Kind:    InvalidDirective,
			Pos:     x.fset.Position(field.Tag.Pos()),
			Context: td.name() + ": " + err.Error(),
			Snippet: field.Tag.Value,
		}
	}
	return tag, nil
}

func specString(spec *ast.ValueSpec) string {
	s := ""
	for i, n := range spec.Names {
		if i > 0 {
			s += ", "
		}
		s += n.Name
	}
	if spec.Type != nil {
		s += " " + types.ExprString(spec.Type)
	}
	if len(spec.Values) > 0 {
		s += " = " + types.ExprString(spec.Values[0])
	}
	return "var " + s
}
