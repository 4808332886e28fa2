// labportal is the command-line client for the lab portal. It keeps the signed-in
// user between invocations in the configured session storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"labportal/client/internal/app"
	"labportal/client/internal/config"
	"labportal/client/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		msg := app.Describe(err)
		if msg == "" {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		os.Exit(1)
	}
}

// globals are accepted before the subcommand and override config.Load.
type globals struct {
	apiURL     string
	storage    string
	storageDir string
	logLevel   string
}

func (g *globals) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.apiURL, "api-url", "", "base URL of the remote store (env LABPORTAL_API_URL)")
	fs.StringVar(&g.storage, "storage", "", "session storage: memory, file, redis, postgres, s3 (env LABPORTAL_STORAGE)")
	fs.StringVar(&g.storageDir, "storage-dir", "", "directory for file storage (env LABPORTAL_STORAGE_DIR)")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn, error (env LABPORTAL_LOG_LEVEL)")
}

func (g *globals) apply(cfg *config.Config) error {
	if g.apiURL != "" {
		cfg.APIBaseURL = g.apiURL
	}
	if g.storage != "" {
		cfg.StorageBackend = g.storage
	}
	if g.storageDir != "" {
		cfg.StorageDir = g.storageDir
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("labportal", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	g.addFlags(fs)
	fs.Usage = func() { printHelp(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printHelp(stderr, fs)
		return pflag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := g.apply(&cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close client", zap.Error(err))
		}
	}()

	return cmd.run(ctx, client, rest[1:], stdout)
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `labportal - lab portal client.

Usage:
  labportal [global flags] <command> [args]

Commands:
  login --name N --password P      sign in
  logout                           sign out
  register --name N --email E --password P
  whoami                           show the signed-in user
  profile --name N --email E [--password P]
  feedback list [--refresh]        newest first
  feedback add <text>
  feedback rm <id>                 administrators only
  feedback search <text> [--mine] [--limit N]
  users list|block|unblock|rm <id> administrators only
  route <path>                     where navigating to path ends up
  metrics                          counters for this invocation

Global flags:
`)
	fs.PrintDefaults()
}
