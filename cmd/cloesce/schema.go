package main

import (
	"bytes"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/sqlschema"
)

type SchemaCmd struct {
	IDL string `name:"idl" help:"IDL document to read, the configured output by default."`
	Out string `help:"Schema file to write, - for stdout." short:"o"`
}

func (c *SchemaCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	in, out := cfg.Output.IDL, cfg.Output.Schema
	if c.IDL != "" {
		in = c.IDL
	}
	if c.Out != "" {
		out = c.Out
	}

	ast, err := idl.Load(in)
	if err != nil {
		return err
	}
	if out == "-" {
		return sqlschema.Write(g.Stdout, ast)
	}
	var buf bytes.Buffer
	if err := sqlschema.Write(&buf, ast); err != nil {
		return err
	}
	if err := writeFile(out, buf.Bytes()); err != nil {
		return err
	}
	logger.Info("wrote schema", "idl", in, "out", out)
	return nil
}
