// Command sqlbridge runs JavaScript files against libsql databases.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/cryguy/sqlbridge"
	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/config"
	"github.com/cryguy/sqlbridge/internal/script"
)

func usage() {
	fmt.Println("Usage: sqlbridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [-config PATH] SCRIPT   Run a script (.js or .ts)")
	fmt.Println("  databases [-config PATH]    List configured databases")
	fmt.Println("  version                     Print version information")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runScript(ctx, os.Args[2:], os.Stdout)
	case "databases":
		err = runDatabases(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(sqlbridge.Version("local"))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", config.Path(), "config file (YAML or TOML)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(*path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runScript(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run takes exactly one script")
	}

	logger := cfg.Logging.Logger(os.Stderr)
	engine, err := sqlbridge.NewEngine(cfg.Engine.Core(), logger, sqlbridge.WithDatabases(cfg.Databases))
	if err != nil {
		return err
	}
	logger.Debug("running script", "path", fs.Arg(0), "engine", engine.Backend())

	result := engine.RunFile(ctx, fs.Arg(0))
	printResult(out, result)
	return result.Error
}

func printResult(out io.Writer, r *sqlbridge.RunResult) {
	gray := color.New(color.FgHiBlack)
	for _, entry := range r.Logs {
		prefix := color.CyanString("log  ")
		switch entry.Level {
		case "warn":
			prefix = color.YellowString("warn ")
		case "error":
			prefix = color.RedString("error")
		case "debug":
			prefix = color.MagentaString("debug")
		}
		fmt.Fprintf(out, "%s %s\n", prefix, entry.Message)
	}
	if r.Data != "" {
		fmt.Fprintf(out, "%s %s\n", color.GreenString("result"), r.Data)
	}
	gray.Fprintf(out, "finished in %v\n", r.Duration)
}

func runDatabases(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("databases", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	names := script.Names(cfg.Databases)
	if len(names) == 0 {
		fmt.Fprintln(out, "No databases configured")
		return nil
	}
	green := color.New(color.FgGreen)
	for _, name := range names {
		db := cfg.Databases[name]
		location := db.Path
		if db.Kind == client.KindRemote {
			location = db.URL
		}
		green.Fprintf(out, "%-16s", name)
		fmt.Fprintf(out, " %-7s %s\n", db.Kind, location)
	}
	return nil
}
