// Package extractor turns annotated Go source into a CloesceAst.
//
// A declaration is only considered when it carries a //cloesce: directive
// (see internal/directive). Extraction is a pure function of the parsed
// files; it halts at the first problem and returns an *Error.
package extractor

import (
	"context"
	"errors"
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/internal/directive"
	"github.com/cloesce/cloesce/internal/discover"
)

// Options configures Extract.
type Options struct {
	// Dir is the working directory patterns are resolved against.
	Dir string
	// Patterns select packages, "./..." when empty.
	Patterns []string
	// ProjectName overrides the name derived from the module path.
	ProjectName string
}

// Extract loads the packages selected by opts and extracts them.
func Extract(ctx context.Context, opts Options) (*idl.CloesceAst, error) {
	res, err := discover.LoadDir(ctx, opts.Dir, opts.Patterns...)
	if err != nil {
		return nil, err
	}
	project := opts.ProjectName
	if project == "" {
		project = res.ProjectName()
	}
	files := make([]SourceFile, len(res.Files))
	for i, f := range res.Files {
		files[i] = SourceFile{Path: f.Path, Syntax: f.Syntax}
	}
	return ExtractFiles(project, res.Fset, files)
}

// SourceFile is a parsed file and the path recorded as its source_path.
type SourceFile struct {
	Path   string
	Syntax *ast.File
}

// ExtractFiles extracts already parsed files. The files must have been
// parsed with parser.ParseComments.
func ExtractFiles(project string, fset *token.FileSet, files []SourceFile) (*idl.CloesceAst, error) {
	x := &extractor{
		fset:     fset,
		out:      idl.NewAst(project),
		models:   make(map[string]*typeDecl),
		poos:     make(map[string]*typeDecl),
		services: make(map[string]*typeDecl),
	}
	for _, sf := range files {
		f, err := x.newFile(sf)
		if err != nil {
			return nil, err
		}
		x.files = append(x.files, f)
	}

	steps := []func() error{
		x.collect,
		x.extractEnv,
		x.extractPoos,
		x.extractModels,
		x.validateReferences,
		x.extractDataSources,
		x.extractServices,
		x.extractMethods,
		x.extractApp,
		x.checkCycles,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return x.out, nil
}

type file struct {
	path    string
	syntax  *ast.File
	imports map[string]string // local name -> import path
	table   *directive.Table
}

// qualified resolves pkg.Name against the file's imports.
func (f *file) qualified(expr ast.Expr) (pkg, name string, ok bool) {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}
	id, ok := sel.X.(*ast.Ident)
	if !ok {
		return "", "", false
	}
	pkg, ok = f.imports[id.Name]
	return pkg, sel.Sel.Name, ok
}

// isRuntime reports whether expr names cloesce.<name>.
func (f *file) isRuntime(expr ast.Expr, name string) bool {
	pkg, n, ok := f.qualified(expr)
	return ok && pkg == RuntimePackage && n == name
}

type typeDecl struct {
	file *file
	spec *ast.TypeSpec
	st   *ast.StructType
	dir  directive.Directive
}

func (d *typeDecl) name() string { return d.spec.Name.Name }

type varDecl struct {
	file *file
	gen  *ast.GenDecl
	spec *ast.ValueSpec
	dir  directive.Directive
}

type funcDecl struct {
	file *file
	fn   *ast.FuncDecl
	dir  directive.Directive
}

type extractor struct {
	fset  *token.FileSet
	out   *idl.CloesceAst
	files []*file

	models   map[string]*typeDecl
	poos     map[string]*typeDecl
	services map[string]*typeDecl
	envs     []*typeDecl
	sources  []*varDecl
	apps     []*varDecl
	methods  []*funcDecl

	// modelOrder keeps declaration order for deterministic diagnostics.
	modelOrder []string
	poosOrder  []string
	svcOrder   []string
}

func (x *extractor) newFile(sf SourceFile) (*file, error) {
	f := &file{path: sf.Path, syntax: sf.Syntax, imports: make(map[string]string)}
	for _, imp := range sf.Syntax.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		local := p[strings.LastIndex(p, "/")+1:]
		if imp.Name != nil {
			local = imp.Name.Name
		}
		if local == "_" || local == "." {
			continue
		}
		f.imports[local] = p
	}

	table, err := directive.Parse(x.fset, sf.Syntax)
	if err != nil {
		var derr *directive.Error
		if errors.As(err, &derr) {
			return nil, &Error{Kind: InvalidDirective, Pos: derr.Pos, Context: derr.Msg}
		}
		return nil, &Error{Kind: InvalidDirective, Context: err.Error()}
	}
	f.table = table
	return f, nil
}

// collect indexes every marked declaration before any type is inferred, so
// references between models resolve regardless of declaration order.
func (x *extractor) collect() error {
	seen := make(map[string]token.Position)
	define := func(name string, pos token.Pos) error {
		p := x.fset.Position(pos)
		if prev, ok := seen[name]; ok {
			return &Error{Kind: DuplicateDefinition, Pos: p, Context: name + " first declared at " + prev.String()}
		}
		seen[name] = p
		return nil
	}

	for _, f := range x.files {
		for _, decl := range f.syntax.Decls {
			switch decl := decl.(type) {
			case *ast.FuncDecl:
				d, ok := f.table.First(decl, directive.KindMethod)
				if !ok {
					if err := x.rejectDirectives(f, decl); err != nil {
						return err
					}
					continue
				}
				x.methods = append(x.methods, &funcDecl{file: f, fn: decl, dir: d})

			case *ast.GenDecl:
				for _, spec := range decl.Specs {
					switch spec := spec.(type) {
					case *ast.TypeSpec:
						if err := x.collectType(f, spec, define); err != nil {
							return err
						}
					case *ast.ValueSpec:
						if err := x.collectVar(f, decl, spec); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

func (x *extractor) collectType(f *file, spec *ast.TypeSpec, define func(string, token.Pos) error) error {
	dirs := f.table.Get(spec)
	if len(dirs) == 0 {
		return nil
	}
	if len(dirs) > 1 {
		return &Error{Kind: InvalidDirective, Pos: dirs[1].Pos, Context: spec.Name.Name + " has more than one directive"}
	}
	d := dirs[0]
	switch d.Kind {
	case directive.KindModel, directive.KindPoo, directive.KindService, directive.KindEnv:
	default:
		return &Error{Kind: InvalidDirective, Pos: d.Pos, Context: "//cloesce:" + directiveName(d) + " cannot mark a type"}
	}

	name := spec.Name.Name
	if !ast.IsExported(name) {
		return &Error{Kind: MissingExport, Pos: x.fset.Position(spec.Pos()), Context: name}
	}
	st, ok := spec.Type.(*ast.StructType)
	if !ok || spec.TypeParams != nil {
		return &Error{Kind: InvalidDirective, Pos: d.Pos, Context: name + " must be a non-generic struct type"}
	}

	td := &typeDecl{file: f, spec: spec, st: st, dir: d}
	if d.Kind == directive.KindEnv {
		x.envs = append(x.envs, td)
		return nil
	}
	if err := define(name, spec.Pos()); err != nil {
		return err
	}
	switch d.Kind {
	case directive.KindModel:
		x.models[name] = td
		x.modelOrder = append(x.modelOrder, name)
	case directive.KindPoo:
		x.poos[name] = td
		x.poosOrder = append(x.poosOrder, name)
	case directive.KindService:
		x.services[name] = td
		x.svcOrder = append(x.svcOrder, name)
	}
	return nil
}

func (x *extractor) collectVar(f *file, gen *ast.GenDecl, spec *ast.ValueSpec) error {
	dirs := f.table.Get(spec)
	if len(dirs) == 0 {
		return nil
	}
	d := dirs[0]
	vd := &varDecl{file: f, gen: gen, spec: spec, dir: d}
	switch d.Kind {
	case directive.KindDataSource:
		x.sources = append(x.sources, vd)
	case directive.KindApp:
		x.apps = append(x.apps, vd)
	default:
		return &Error{Kind: InvalidDirective, Pos: d.Pos, Context: "//cloesce:" + directiveName(d) + " cannot mark a variable"}
	}
	return nil
}

// rejectDirectives fails when a func carries a non-method directive.
func (x *extractor) rejectDirectives(f *file, fn *ast.FuncDecl) error {
	for _, d := range f.table.Get(fn) {
		return &Error{Kind: InvalidDirective, Pos: d.Pos, Context: "//cloesce:" + directiveName(d) + " cannot mark a function"}
	}
	return nil
}

func directiveName(d directive.Directive) string {
	if d.Kind == directive.KindMethod {
		return d.Verb
	}
	return string(d.Kind)
}

func (x *extractor) checkCycles() error {
	if _, err := idl.SortModels(x.out); err != nil {
		var cycle *idl.CycleError
		if errors.As(err, &cycle) {
			pos := token.Position{}
			if len(cycle.Models) > 0 {
				if td := x.models[cycle.Models[0]]; td != nil {
					pos = x.fset.Position(td.spec.Pos())
				}
			}
			return &Error{Kind: CyclicalModelDependency, Pos: pos, Context: strings.Join(cycle.Models, ", ")}
		}
		return err
	}
	return nil
}

// fieldName returns the wire name of a struct field.
func fieldName(field *ast.Field, jsonName string) string {
	if jsonName != "" {
		return jsonName
	}
	return field.Names[0].Name
}
