// Command toolmeshd is a small CLI around the catalog/discovery pipeline:
// it registers one or more remote tool sources and prints the aggregated
// catalog. It does not run discovery turns.
//
// Usage:
//
//	toolmeshd catalog --remote gh=http://localhost:9001/rpc
//	toolmeshd catalog --config toolmeshd.yaml
//	toolmeshd version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/discoveryhq/toolmesh/catalog"
	"github.com/discoveryhq/toolmesh/descriptor"
	"github.com/discoveryhq/toolmesh/internal/logx"
)

// CLI defines the command-line interface.
type CLI struct {
	Version CmdVersion `cmd:"" help:"Show version information."`
	Catalog CmdCatalog `cmd:"" help:"Register remote tool sources and print the aggregated catalog."`

	Config    string `help:"YAML config file listing remote sources and log settings." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// CmdVersion shows build information.
type CmdVersion struct{}

func (c *CmdVersion) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("toolmeshd %s\n", version)
	return nil
}

// CmdCatalog registers remote sources given as "id=url" pairs and prints the
// resulting descriptor list, one line per tool.
type CmdCatalog struct {
	Remote []string `help:"Remote tool source as id=url. Repeatable." placeholder:"ID=URL"`
}

func (c *CmdCatalog) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	// Config-file sources come first, then any --remote flags on top.
	var sources []SourceConfig
	if cli.Config != "" {
		cfg, err := LoadConfig(cli.Config)
		if err != nil {
			return err
		}
		sources = cfg.Sources
	}
	for _, spec := range c.Remote {
		id, url, ok := strings.Cut(spec, "=")
		if !ok || id == "" || url == "" {
			return fmt.Errorf("invalid --remote %q, want ID=URL", spec)
		}
		sources = append(sources, SourceConfig{ID: id, URL: url})
	}

	cat := catalog.New()
	for _, s := range sources {
		var src descriptor.Source
		if s.Command != "" {
			src = descriptor.NewStdioSource(s.ID, descriptor.StdioConfig{
				Command: s.Command,
				Args:    s.Args,
				Env:     s.Env,
			})
			slog.Info("registering stdio source", "source_id", s.ID, "command", s.Command)
		} else {
			src = descriptor.NewRemoteSource(s.ID, s.URL)
			slog.Info("registering remote source", "source_id", s.ID, "url", s.URL)
		}
		if err := cat.Register(ctx, src); err != nil {
			return fmt.Errorf("register source %s: %w", s.ID, err)
		}
	}

	descriptors := cat.GetAllDescriptors()
	slog.Info("catalog assembled", "tool_count", len(descriptors))
	for _, d := range descriptors {
		fmt.Printf("%-40s %-20s %s\n", d.ID, d.Name, d.Description)
	}
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("toolmeshd"),
		kong.Description("Discover and inspect tools exposed by remote tool-serving processes."),
		kong.UsageOnError(),
	)

	// A config file supplies log settings for any flag still at its default.
	if cli.Config != "" {
		cfg, err := LoadConfig(cli.Config)
		kctx.FatalIfErrorf(err)
		if cli.LogLevel == "info" {
			cli.LogLevel = cfg.Log.Level
		}
		if cli.LogFormat == "simple" {
			cli.LogFormat = cfg.Log.Format
		}
		if cli.LogFile == "" {
			cli.LogFile = cfg.Log.File
		}
	}

	level, err := logx.ParseLevel(cli.LogLevel)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logx.OpenLogFile(cli.LogFile)
		if err != nil {
			kctx.FatalIfErrorf(fmt.Errorf("open log file: %w", err))
		}
		defer cleanup()
		output = file
	}
	logx.Init(level, output, cli.LogFormat)

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
