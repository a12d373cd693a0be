package extractor

import (
	"go/ast"
	"go/types"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/internal/directive"
)

func (x *extractor) extractServices() error {
	for _, name := range x.svcOrder {
		td := x.services[name]
		svc := &idl.Service{
			Name:       name,
			Attributes: []idl.NamedTypedValue{},
			Methods:    make(map[string]*idl.ApiMethod),
			SourcePath: td.file.path,
		}
		err := x.eachField(td, func(field *ast.Field, tag directive.FieldTag, fname string) error {
			t, ok := x.injected(td.file, field.Type)
			if !ok && tag.Inject {
				if n := typeName(field.Type); n != "" {
					t, ok = idl.Inject{Name: n}, true
				}
			}
			if !ok {
				return &Error{
					Kind:    InvalidDirective,
					Pos:     x.fset.Position(field.Pos()),
					Context: name + "." + fname + `: service fields must be injected, tag them cloesce:"inject"`,
					Snippet: fieldString(field),
				}
			}
			svc.Attributes = append(svc.Attributes, idl.NamedTypedValue{Name: fname, Type: t})
			return nil
		})
		if err != nil {
			return err
		}
		x.out.Services[name] = svc
	}
	return nil
}

// injected recognizes parameter types supplied by the runtime.
func (x *extractor) injected(f *file, expr ast.Expr) (idl.CidlType, bool) {
	if star, ok := expr.(*ast.StarExpr); ok {
		if pkg, name, ok := f.qualified(star.X); ok && pkg == "net/http" && name == "Request" {
			return idl.Inject{Name: "Request"}, true
		}
	}
	if x.isEnv(expr) {
		return idl.Inject{Name: x.out.WranglerEnv.Name}, true
	}
	if ix, ok := expr.(*ast.IndexExpr); ok && f.isRuntime(ix.X, "Inject") {
		if n := typeName(ix.Index); n != "" {
			return idl.Inject{Name: n}, true
		}
	}
	return nil, false
}

func (x *extractor) extractMethods() error {
	for _, fd := range x.methods {
		if err := x.extractMethod(fd); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) extractMethod(fd *funcDecl) error {
	fn := fd.fn
	pos := x.fset.Position(fn.Pos())
	bad := func(context string) error {
		return &Error{Kind: InvalidMethodSignature, Pos: pos, Context: fn.Name.Name + ": " + context, Snippet: signature(fn)}
	}

	owner := fd.dir.Arg(0)
	static := fn.Recv == nil
	switch {
	case !static && owner != "":
		return bad("methods with a receiver cannot name an owner")
	case static && owner == "":
		return bad("functions need an owner, e.g. //cloesce:" + fd.dir.Verb + " Person")
	case !static:
		owner = typeName(fn.Recv.List[0].Type)
	}
	if fn.Type.TypeParams != nil {
		return bad("generic functions are not supported")
	}

	var methods map[string]*idl.ApiMethod
	if m, ok := x.out.Models[owner]; ok {
		methods = m.Methods
	} else if s, ok := x.out.Services[owner]; ok {
		methods = s.Methods
	} else {
		return bad(owner + " is not a model or service")
	}
	if !fn.Name.IsExported() {
		return &Error{Kind: MissingExport, Pos: pos, Context: owner + "." + fn.Name.Name}
	}
	if _, dup := methods[fn.Name.Name]; dup {
		return &Error{Kind: DuplicateDefinition, Pos: pos, Context: owner + "." + fn.Name.Name}
	}

	verb, _ := idl.ParseHttpVerb(fd.dir.Verb)
	method := &idl.ApiMethod{
		Name:            fn.Name.Name,
		IsStatic:        static,
		HttpVerb:        verb,
		ParametersMedia: idl.MediaJSON,
		Parameters:      []idl.NamedTypedValue{},
		Injected:        []idl.NamedTypedValue{},
	}

	for _, field := range fn.Type.Params.List {
		if len(field.Names) == 0 {
			return bad("parameters must be named")
		}
		if pkg, name, ok := fd.file.qualified(field.Type); ok && pkg == "context" && name == "Context" {
			continue
		}
		for _, id := range field.Names {
			if t, ok := x.injected(fd.file, field.Type); ok {
				method.Injected = append(method.Injected, idl.NamedTypedValue{Name: id.Name, Type: t})
				continue
			}
			t, err := x.infer(fd.file, field.Type, owner+"."+fn.Name.Name+"("+id.Name+")")
			if err != nil {
				return err
			}
			method.Parameters = append(method.Parameters, idl.NamedTypedValue{Name: id.Name, Type: t})
		}
	}
	for _, p := range method.Parameters {
		if p.Type == idl.Stream {
			if len(method.Parameters) != 1 {
				return bad("a stream must be the only parameter")
			}
			method.ParametersMedia = idl.MediaOctet
		}
	}

	ret, err := x.returnType(fd, bad)
	if err != nil {
		return err
	}
	method.ReturnType = ret
	method.ReturnMedia = mediaOf(ret)

	methods[method.Name] = method
	return nil
}

// returnType accepts (), (error), (T) and (T, error).
func (x *extractor) returnType(fd *funcDecl, bad func(string) error) (idl.CidlType, error) {
	var results []ast.Expr
	if fd.fn.Type.Results != nil {
		for _, field := range fd.fn.Type.Results.List {
			n := len(field.Names)
			if n == 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				results = append(results, field.Type)
			}
		}
	}
	isError := func(e ast.Expr) bool {
		id, ok := e.(*ast.Ident)
		return ok && id.Name == "error"
	}

	switch {
	case len(results) == 0:
		return idl.Void, nil
	case len(results) == 1 && isError(results[0]):
		return idl.Void, nil
	case len(results) == 1 || (len(results) == 2 && isError(results[1])):
		if isError(results[0]) {
			return nil, bad("unexpected error result")
		}
		return x.infer(fd.file, results[0], fd.fn.Name.Name+" result")
	}
	return nil, bad("too many results")
}

func signature(fn *ast.FuncDecl) string {
	s := "func "
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		s += "(" + types.ExprString(fn.Recv.List[0].Type) + ") "
	}
	return s + fn.Name.Name + types.ExprString(fn.Type)[len("func"):]
}
