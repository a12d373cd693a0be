package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloesce/cloesce/extractor"
	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/sqlschema"
)

type CheckCmd struct {
	Patterns []string `arg:"" optional:"" help:"Package patterns, ./... by default."`
	Dir      string   `help:"Directory patterns are resolved against." short:"d"`
	IDL      string   `name:"idl" help:"Check an existing IDL document instead of extracting."`
}

func (c *CheckCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if len(c.Patterns) > 0 {
		cfg.Source.Patterns = c.Patterns
	}
	if c.Dir != "" {
		cfg.Source.Dir = c.Dir
	}

	var ast *idl.CloesceAst
	if c.IDL != "" {
		ast, err = idl.Load(c.IDL)
	} else {
		ast, err = extractor.Extract(context.Background(), extractor.Options{
			Dir:         cfg.Source.Dir,
			Patterns:    cfg.Source.Patterns,
			ProjectName: cfg.Project,
		})
	}
	if err != nil {
		return err
	}

	order, err := idl.SortModels(ast)
	if err != nil {
		return err
	}
	stmts, err := sqlschema.Statements(ast)
	if err != nil {
		return err
	}
	logger.Debug("checked", "statements", len(stmts))

	fmt.Fprintf(g.Stdout, "%s: %d models, %d services, %d plain objects\n",
		ast.ProjectName, len(ast.Models), len(ast.Services), len(ast.Poos))
	if len(order) > 0 {
		fmt.Fprintf(g.Stdout, "table order: %s\n", strings.Join(order, ", "))
	}
	return nil
}
