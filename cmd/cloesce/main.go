package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/cloesce/cloesce/extractor"
	"github.com/cloesce/cloesce/internal/config"
)

type CLI struct {
	Globals

	Version VersionCmd `cmd:"" help:"Print version information."`
	Extract ExtractCmd `cmd:"" help:"Extract the IDL from annotated Go source."`
	Check   CheckCmd   `cmd:"" help:"Validate models and services without writing files."`
	Schema  SchemaCmd  `cmd:"" help:"Write the SQL schema of an IDL document."`
}

// Globals are shared by every command.
type Globals struct {
	Config string `help:"Path to the project configuration." default:"cloesce.yaml" short:"c"`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

func (g *Globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logger(g.Stderr), nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintln(g.Stdout, Version())
	return nil
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("cloesce"),
		kong.Description("Cloesce CLI for IDL extraction and schema generation."),
		kong.UsageOnError(),
		kong.Writers(cli.Stdout, cli.Stderr),
	)
}

// run parses args and executes the selected command.
func run(args []string, stdout, stderr io.Writer) error {
	cli := &CLI{Globals: Globals{Stdout: stdout, Stderr: stderr}}
	parser, err := newParser(cli)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return ctx.Run(&cli.Globals)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "cloesce: %s\n", report(err))
		os.Exit(1)
	}
}

// report renders extraction errors with their source snippet and hint.
func report(err error) string {
	var xerr *extractor.Error
	if errors.As(err, &xerr) {
		return xerr.Report()
	}
	return err.Error()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
