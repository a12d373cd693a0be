package extractor

import (
	"go/ast"
	"go/types"

	"github.com/cloesce/cloesce/idl"
)

// RuntimePackage is the import path of the runtime marker types.
const RuntimePackage = "github.com/cloesce/cloesce"

var basicTypes = map[string]idl.Scalar{
	"int": idl.Integer, "int8": idl.Integer, "int16": idl.Integer, "int32": idl.Integer, "int64": idl.Integer,
	"uint": idl.Integer, "uint8": idl.Integer, "uint16": idl.Integer, "uint32": idl.Integer, "uint64": idl.Integer,
	"byte": idl.Integer, "rune": idl.Integer,
	"float32": idl.Real, "float64": idl.Real,
	"string": idl.Text,
	"bool":   idl.Boolean,
	"any":    idl.JsonValue,
}

type qualifiedName struct{ pkg, name string }

var stdTypes = map[qualifiedName]idl.Scalar{
	{"time", "Time"}:                idl.DateIso,
	{"io", "Reader"}:                idl.Stream,
	{"io", "ReadCloser"}:            idl.Stream,
	{"encoding/json", "RawMessage"}: idl.JsonValue,
}

// typeError builds an UnknownType or MultipleGenericType error for expr.
func (x *extractor) typeError(kind ErrorKind, f *file, expr ast.Expr, context string) *Error {
	return &Error{
		Kind:    kind,
		Pos:     x.fset.Position(expr.Pos()),
		Context: context,
		Snippet: types.ExprString(expr),
	}
}

// infer maps a Go type expression onto a CidlType. context names the field
// or parameter for diagnostics.
func (x *extractor) infer(f *file, expr ast.Expr, context string) (idl.CidlType, error) {
	switch e := expr.(type) {
	case *ast.ParenExpr:
		return x.infer(f, e.X, context)

	case *ast.Ident:
		if s, ok := basicTypes[e.Name]; ok {
			return s, nil
		}
		if x.isObject(e.Name) {
			return idl.Object{Name: e.Name}, nil
		}

	case *ast.SelectorExpr:
		pkg, name, ok := f.qualified(e)
		if !ok {
			break
		}
		if s, ok := stdTypes[qualifiedName{pkg, name}]; ok {
			return s, nil
		}
		if pkg != RuntimePackage && x.isObject(name) {
			return idl.Object{Name: name}, nil
		}

	case *ast.InterfaceType:
		if e.Methods == nil || len(e.Methods.List) == 0 {
			return idl.JsonValue, nil
		}

	case *ast.StarExpr:
		if _, ok := e.X.(*ast.StarExpr); ok {
			break
		}
		inner, err := x.infer(f, e.X, context)
		if err != nil {
			return nil, err
		}
		return idl.Nullable{Inner: inner}, nil

	case *ast.ArrayType:
		if e.Len != nil {
			break
		}
		if id, ok := e.Elt.(*ast.Ident); ok && (id.Name == "byte" || id.Name == "uint8") {
			return idl.Blob, nil
		}
		elem, err := x.infer(f, e.Elt, context)
		if err != nil {
			return nil, err
		}
		return idl.Array{Elem: elem}, nil

	case *ast.MapType, *ast.IndexListExpr:
		return nil, x.typeError(MultipleGenericType, f, expr, context)

	case *ast.IndexExpr:
		return x.inferGeneric(f, e, context)
	}
	return nil, x.typeError(UnknownType, f, expr, context)
}

func (x *extractor) inferGeneric(f *file, e *ast.IndexExpr, context string) (idl.CidlType, error) {
	pkg, name, ok := f.qualified(e.X)
	if !ok || pkg != RuntimePackage {
		return nil, x.typeError(UnknownType, f, e, context)
	}
	switch name {
	case "HttpResult":
		inner, err := x.infer(f, e.Index, context)
		if err != nil {
			return nil, err
		}
		return idl.HttpResult{Inner: inner}, nil
	case "Partial":
		if arg := typeName(e.Index); x.isObject(arg) {
			return idl.Partial{Name: arg}, nil
		}
	case "DataSource":
		if arg := typeName(e.Index); x.models[arg] != nil {
			return idl.DataSource{Model: arg}, nil
		}
	case "Inject":
		if arg := typeName(e.Index); arg != "" {
			return idl.Inject{Name: arg}, nil
		}
	}
	return nil, x.typeError(UnknownType, f, e, context)
}

func (x *extractor) isObject(name string) bool {
	if _, ok := x.models[name]; ok {
		return true
	}
	_, ok := x.poos[name]
	return ok
}

// typeName returns the bare name of an identifier, qualified identifier or
// pointer to either.
func typeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.StarExpr:
		return typeName(e.X)
	}
	return ""
}

// mediaOf returns the payload encoding for a type: raw streams travel as
// octets, everything else as JSON.
func mediaOf(t idl.CidlType) idl.MediaType {
	if hr, ok := t.(idl.HttpResult); ok {
		t = hr.Inner
	}
	if t == idl.Stream {
		return idl.MediaOctet
	}
	return idl.MediaJSON
}
