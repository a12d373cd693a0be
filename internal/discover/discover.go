// Package discover loads the Go source files that the extractor walks.
//
// Only syntax is loaded. Marked declarations are recognized by their
// //cloesce: directives, so type checking (and therefore a resolvable import
// graph) is not required.
package discover

import (
	"context"
	"fmt"
	"go/ast"
	"go/token"
	"path"
	"path/filepath"
	"sort"

	"golang.org/x/tools/go/packages"
)

// File is one parsed source file.
type File struct {
	Path    string    // absolute path on disk
	Package string    // import path of the containing package
	Syntax  *ast.File // parsed with comments
}

// Result contains the parsed files and module info.
type Result struct {
	Fset       *token.FileSet
	Files      []File
	ModulePath string
	ModuleDir  string // directory containing go.mod
}

// ProjectName returns the last element of the module path, or "" if the
// module is unknown.
func (r *Result) ProjectName() string {
	if r.ModulePath == "" {
		return ""
	}
	return path.Base(r.ModulePath)
}

// Load parses every package matching patterns.
//
// Patterns follow go command semantics:
//   - "./..." for every package below the current directory
//   - Import path like "github.com/foo/bar"
//   - Absolute or relative directory path
func Load(ctx context.Context, patterns ...string) (*Result, error) {
	return LoadDir(ctx, "", patterns...)
}

// LoadDir is like Load but allows specifying a working directory.
func LoadDir(ctx context.Context, dir string, patterns ...string) (*Result, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedSyntax | packages.NeedModule,
		Dir:  dir,
		Fset: fset,
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching %v", patterns)
	}

	result := &Result{Fset: fset}
	for _, pkg := range pkgs {
		for _, perr := range pkg.Errors {
			// Import errors are expected without type information.
			if perr.Kind == packages.ParseError || perr.Kind == packages.ListError {
				return nil, fmt.Errorf("package %s: %v", pkg.PkgPath, perr)
			}
		}
		if pkg.Module != nil && result.ModulePath == "" {
			result.ModulePath = pkg.Module.Path
			result.ModuleDir = pkg.Module.Dir
		}
		for i, f := range pkg.Syntax {
			p := fset.Position(f.Pos()).Filename
			if i < len(pkg.CompiledGoFiles) {
				p = pkg.CompiledGoFiles[i]
			}
			result.Files = append(result.Files, File{
				Path:    filepath.Clean(p),
				Package: pkg.PkgPath,
				Syntax:  f,
			})
		}
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	return result, nil
}

// Syntax returns the parsed files in path order.
func (r *Result) Syntax() []*ast.File {
	files := make([]*ast.File, len(r.Files))
	for i, f := range r.Files {
		files[i] = f.Syntax
	}
	return files
}
