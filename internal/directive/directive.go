// Package directive parses cloesce markers from Go source files.
//
// Declarations are marked with line comments in the form:
//
//	//cloesce:model [crud=get,list,save]
//	//cloesce:poo
//	//cloesce:service
//	//cloesce:env
//	//cloesce:datasource <Model>
//	//cloesce:app
//	//cloesce:get|post|put|patch|delete [Owner]
//
// Struct fields carry a `cloesce:"..."` tag (see ParseTag). The markers are
// collected into a Table keyed by declaration so the extractor never has to
// look at comments itself.
package directive

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

const prefix = "//cloesce:"

// Kind is the declaration marker.
type Kind string

const (
	KindModel      Kind = "model"
	KindPoo        Kind = "poo"
	KindService    Kind = "service"
	KindEnv        Kind = "env"
	KindDataSource Kind = "datasource"
	KindApp        Kind = "app"
	KindMethod     Kind = "method"
)

var verbs = map[string]bool{"get": true, "post": true, "put": true, "patch": true, "delete": true}

// Directive is one parsed marker.
type Directive struct {
	Kind Kind
	// Verb is the lowercase HTTP verb for KindMethod.
	Verb string
	// Args holds positional arguments, e.g. the owner of a static method.
	Args []string
	// Options holds key=value arguments, e.g. crud=get,list.
	Options map[string]string
	Pos     token.Position
}

// Arg returns the i-th positional argument or "".
func (d Directive) Arg(i int) string {
	if i < len(d.Args) {
		return d.Args[i]
	}
	return ""
}

// Error is a malformed or misplaced directive.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// Table maps declarations to their directives. Type and var directives are
// keyed by *ast.TypeSpec / *ast.ValueSpec, method directives by *ast.FuncDecl.
type Table struct {
	decls map[ast.Node][]Directive
}

// Get returns the directives attached to node.
func (t *Table) Get(node ast.Node) []Directive {
	if t == nil {
		return nil
	}
	return t.decls[node]
}

// First returns the first directive of kind attached to node.
func (t *Table) First(node ast.Node, kind Kind) (Directive, bool) {
	for _, d := range t.Get(node) {
		if d.Kind == kind {
			return d, true
		}
	}
	return Directive{}, false
}

// Parse builds the directive table for a file. Every //cloesce: comment must
// belong to the doc comment of a type, var or func declaration.
func Parse(fset *token.FileSet, f *ast.File) (*Table, error) {
	t := &Table{decls: make(map[ast.Node][]Directive)}
	consumed := make(map[*ast.Comment]bool)

	attach := func(node ast.Node, groups ...*ast.CommentGroup) error {
		for _, cg := range groups {
			if cg == nil {
				continue
			}
			for _, c := range cg.List {
				if !strings.HasPrefix(c.Text, prefix) || consumed[c] {
					continue
				}
				consumed[c] = true
				d, err := parseComment(fset.Position(c.Pos()), c.Text)
				if err != nil {
					return err
				}
				t.decls[node] = append(t.decls[node], d)
			}
		}
		return nil
	}

	for _, decl := range f.Decls {
		switch decl := decl.(type) {
		case *ast.FuncDecl:
			if err := attach(decl, decl.Doc); err != nil {
				return nil, err
			}
		case *ast.GenDecl:
			for _, spec := range decl.Specs {
				var groups []*ast.CommentGroup
				// A lone spec shares the GenDecl doc comment.
				if len(decl.Specs) == 1 {
					groups = append(groups, decl.Doc)
				}
				switch spec := spec.(type) {
				case *ast.TypeSpec:
					groups = append(groups, spec.Doc)
				case *ast.ValueSpec:
					groups = append(groups, spec.Doc)
				default:
					continue
				}
				if err := attach(spec, groups...); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, cg := range f.Comments {
		for _, c := range cg.List {
			if strings.HasPrefix(c.Text, prefix) && !consumed[c] {
				return nil, &Error{
					Pos: fset.Position(c.Pos()),
					Msg: fmt.Sprintf("%s directive must be followed by a declaration", strings.Fields(c.Text)[0]),
				}
			}
		}
	}
	return t, nil
}

func parseComment(pos token.Position, text string) (Directive, error) {
	parts := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return Directive{}, &Error{Pos: pos, Msg: "empty //cloesce: directive"}
	}

	d := Directive{Pos: pos, Options: make(map[string]string)}
	name := parts[0]
	switch {
	case verbs[name]:
		d.Kind = KindMethod
		d.Verb = name
	case name == string(KindModel), name == string(KindPoo), name == string(KindService),
		name == string(KindEnv), name == string(KindDataSource), name == string(KindApp):
		d.Kind = Kind(name)
	default:
		return Directive{}, &Error{Pos: pos, Msg: fmt.Sprintf("unknown directive //cloesce:%s", name)}
	}

	for _, arg := range parts[1:] {
		if k, v, ok := strings.Cut(arg, "="); ok {
			d.Options[k] = v
			continue
		}
		d.Args = append(d.Args, arg)
	}

	if d.Kind == KindDataSource && len(d.Args) != 1 {
		return Directive{}, &Error{Pos: pos, Msg: "//cloesce:datasource requires exactly one model name"}
	}
	return d, nil
}
