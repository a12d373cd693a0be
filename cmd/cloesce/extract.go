package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cloesce/cloesce/extractor"
	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/internal/config"
)

type ExtractCmd struct {
	Patterns []string `arg:"" optional:"" help:"Package patterns, ./... by default."`
	Dir      string   `help:"Directory patterns are resolved against." short:"d"`
	Out      string   `help:"Path of the generated IDL document." short:"o"`
	Project  string   `help:"Project name, defaults to the module path."`
	Watch    bool     `help:"Watch for changes and extract again." short:"w"`
}

func (c *ExtractCmd) apply(cfg *config.Config) {
	if len(c.Patterns) > 0 {
		cfg.Source.Patterns = c.Patterns
	}
	if c.Dir != "" {
		cfg.Source.Dir = c.Dir
	}
	if c.Out != "" {
		cfg.Output.IDL = c.Out
	}
	if c.Project != "" {
		cfg.Project = c.Project
	}
}

func (c *ExtractCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	c.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := extract(ctx, cfg, logger); err != nil {
		if !c.Watch {
			return err
		}
		logger.Error(report(err))
	}
	if !c.Watch {
		return nil
	}

	root, err := filepath.Abs(cfg.Source.Dir)
	if err != nil {
		return err
	}
	logger.Info("watching for changes", "dir", root)
	return watch(ctx, root, cfg.Watch.Debounce, logger, func() {
		if err := extract(ctx, cfg, logger); err != nil {
			logger.Error(report(err))
		}
	})
}

func extract(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ast, err := extractor.Extract(ctx, extractor.Options{
		Dir:         cfg.Source.Dir,
		Patterns:    cfg.Source.Patterns,
		ProjectName: cfg.Project,
	})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := idl.Encode(&buf, ast); err != nil {
		return err
	}
	if err := writeFile(cfg.Output.IDL, buf.Bytes()); err != nil {
		return err
	}
	logger.Info("extracted",
		slog.String("project", ast.ProjectName),
		slog.Int("models", len(ast.Models)),
		slog.Int("services", len(ast.Services)),
		slog.Int("poos", len(ast.Poos)),
		slog.String("out", cfg.Output.IDL))
	return nil
}
