package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/discovery"
	"github.com/leehambley/mitre/pkg/mitre/engine"
	"github.com/leehambley/mitre/pkg/mitre/filename"
	"github.com/leehambley/mitre/pkg/mitre/reserved"
)

var version = "0.1.0"

// Exit codes for the CLI contract.
const (
	exitOK               = 0
	exitUserOrConfig     = 1
	exitExecutionFailure = 2
	exitReconciliation   = 3
)

func main() {
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		handleSubcommand(os.Args[1:])
		return
	}
	handleLegacyFlags()
}

// handleSubcommand handles "mitre <command> [args]" style invocation.
func handleSubcommand(args []string) {
	switch args[0] {
	case "help", "-h", "--help":
		printHelp()
		return
	case "version", "-v", "--version":
		fmt.Println(version)
		return
	}

	fs := flag.NewFlagSet("mitre", flag.ExitOnError)
	cfg := configFlags(fs)

	switch args[0] {
	case "ls":
		_ = fs.Parse(args[1:])
		runLs(cfg)
	case "up":
		_ = fs.Parse(args[1:])
		runUp(cfg)
	case "down":
		_ = fs.Parse(args[1:])
		runDown(cfg)
	case "extract-tags":
		_ = fs.Parse(args[1:])
		runExtractTags(fs.Args())
	case "list-reserved-words":
		_ = fs.Parse(args[1:])
		runListReservedWords()
	case "show-config":
		_ = fs.Parse(args[1:])
		if fs.NArg() > 0 {
			cfg.configPath = fs.Arg(0)
		}
		runShowConfig(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(exitUserOrConfig)
	}
}

// handleLegacyFlags handles the legacy "-command" flag form, kept for
// parity with scripts that predate command-first dispatch.
func handleLegacyFlags() {
	command := flag.String("command", "ls", "command to run: ls, up, down, list-reserved-words, show-config")
	cfg := configFlags(flag.CommandLine)
	flag.Parse()

	switch *command {
	case "ls":
		runLs(cfg)
	case "up":
		runUp(cfg)
	case "down":
		runDown(cfg)
	case "list-reserved-words":
		runListReservedWords()
	case "show-config":
		runShowConfig(cfg)
	default:
		log.Fatalf("unknown command: %s", *command)
	}
}

type config struct {
	configPath string
	timeout    time.Duration
	verbose    bool
}

func configFlags(fs *flag.FlagSet) *config {
	cfg := &config{}
	fs.StringVar(&cfg.configPath, "config", "./mitre.yml", "path to the mitre configuration YAML")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Minute, "overall command timeout")
	fs.BoolVar(&cfg.verbose, "verbose", false, "enable debug logging")
	return cfg
}

func pickEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func resolveConfigPath(cfg *config) string {
	return pickEnv("MITRE_CONFIG", cfg.configPath)
}

func newLogger(cfg *config) *zap.Logger {
	if !cfg.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// runContext bounds a run by both cfg.timeout and SIGINT/SIGTERM: a
// caught signal cancels the context the same way the timeout does, so
// executor.Run's between-migration ctx.Err() check stops the plan at
// the next migration boundary instead of mid-statement.
func runContext(cfg *config) (context.Context, context.CancelFunc) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), cfg.timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() { stop(); cancelTimeout() }
}

func openEngine(ctx context.Context, cfg *config) *engine.Engine {
	logger := newLogger(cfg)
	e, err := engine.Open(ctx, resolveConfigPath(cfg), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUserOrConfig)
	}
	return e
}

func runLs(cfg *config) {
	ctx, cancel := runContext(cfg)
	defer cancel()

	e := openEngine(ctx, cfg)
	defer e.Close()

	states, warnings, err := e.Plan(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUserOrConfig)
	}

	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w.String())
	}

	orphaned := false
	for _, s := range states {
		if s.Migration.BuiltIn {
			// Built-in migrations participate in the diff but are
			// hidden from the default listing.
			continue
		}
		line := fmt.Sprintf("%d\t%s\t%s", s.Migration.Version, s.State, s.Migration.Slug)
		if s.State == mitre.StatePendingSkipped {
			line += fmt.Sprintf(" (skipped: %s)", s.SkippedTag)
		}
		fmt.Println(line)
		if s.State == mitre.StateOrphaned {
			orphaned = true
		}
	}

	if orphaned {
		os.Exit(exitReconciliation)
	}
}

func runUp(cfg *config) {
	ctx, cancel := runContext(cfg)
	defer cancel()

	e := openEngine(ctx, cfg)
	defer e.Close()

	states, warnings, err := e.Plan(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUserOrConfig)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w.String())
	}

	filtered := make([]mitre.MigrationState, 0, len(states))
	for _, s := range states {
		if s.State == mitre.StatePending {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		fmt.Println("no changes")
		return
	}

	results, err := e.Executor().Run(ctx, filtered, mitre.DirectionUp)
	for _, r := range results {
		fmt.Printf("%d\tapplied\t%s\n", r.Migration.Version, r.Migration.Slug)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitExecutionFailure)
	}
}

func runDown(cfg *config) {
	ctx, cancel := runContext(cfg)
	defer cancel()

	e := openEngine(ctx, cfg)
	defer e.Close()

	states, warnings, err := e.Plan(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUserOrConfig)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w.String())
	}

	results, err := e.Executor().Run(ctx, states, mitre.DirectionDown)
	for _, r := range results {
		fmt.Printf("%d\treverted\t%s\n", r.Migration.Version, r.Migration.Slug)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitExecutionFailure)
	}
}

func runExtractTags(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "extract-tags requires a migration path argument")
		os.Exit(exitUserOrConfig)
	}

	base := filepath.Base(args[0])
	parsed, err := filename.ParseFile(base)
	if err != nil {
		parsed, err = filename.ParseDirectory(base)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUserOrConfig)
	}

	if len(parsed.Flags) == 0 {
		fmt.Println("no tags")
		return
	}
	fmt.Println(strings.Join(parsed.Flags, "\n"))
}

func runListReservedWords() {
	for _, w := range reserved.All() {
		fmt.Printf("%s\t%s\t%s\n", w.Word, w.Kind, w.Reason)
	}
}

func runShowConfig(cfg *config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	e := openEngine(ctx, cfg)
	defer e.Close()

	fmt.Printf("migrations_directory: %s\n", e.Configuration.MigrationsDirectory)
	for _, name := range e.Configuration.Names() {
		rc, _ := e.Configuration.Lookup(name)
		password := ""
		if rc.Password != "" {
			password = "<redacted>"
		}
		fmt.Printf("%s:\n  _driver: %s\n  host: %s\n  port: %d\n  database: %s\n  index: %s\n  username: %s\n  password: %s\n",
			name, rc.Driver, rc.Host, rc.Port, rc.Database, rc.Index, rc.Username, password)
	}

	discovered, _, err := discovery.Discover(e.Configuration.MigrationsDirectory, e.Configuration)
	if err != nil {
		fmt.Fprintln(os.Stderr, "discovery: "+err.Error())
		return
	}

	fmt.Println("migrations:")
	for _, m := range discovered {
		fmt.Printf("  %d %s [%s] sha256:%x\n", m.Version, m.Slug, m.ConfigurationName, m.ChecksumSHA256())
	}
}

func printHelp() {
	fmt.Print(`mitre - portable, polyglot database migration planner

Usage:
  mitre <command> [flags]

Commands:
  ls                   show the plan: applied, pending and orphaned migrations
  up                    apply all pending migrations in ascending version order
  down                  revert all applied migrations in descending version order
  extract-tags <path>   print the flags encoded in a migration filename
  list-reserved-words   print the reserved-word table
  show-config <path>    print the resolved configuration
  version               print the CLI version
  help                  print this help

Flags:
  -config    path to the mitre configuration YAML (default ./mitre.yml)
  -timeout   overall command timeout (default 5m)
  -verbose   enable debug logging

Environment variables:
  MITRE_CONFIG   overrides -config

Examples:
  mitre ls
  mitre up
  mitre down
`)
}
