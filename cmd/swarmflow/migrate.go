package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

var errMigrateUsage = errors.New("invalid migrate usage")

// migrateFlags 所有子命令共用的连接参数
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
	all        bool
}

// runMigrate 处理 migrate 命令及其子命令
func runMigrate(args []string, out io.Writer) error {
	if len(args) < 1 {
		printMigrateUsage(out)
		return errMigrateUsage
	}

	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(out)
		return nil
	}

	// goto / force / steps 的第一个参数是数字
	cmd := migration.Command{Name: sub}
	switch sub {
	case "goto", "force", "steps":
		if len(rest) < 1 {
			fmt.Fprintf(out, "Usage: swarmflow migrate %s <n>\n", sub)
			return errMigrateUsage
		}
		n, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", rest[0], err)
		}
		if sub == "goto" && n < 0 {
			return fmt.Errorf("invalid version %d", n)
		}
		cmd.N, rest = int(n), rest[1:]
	case "up", "down", "status", "version", "info", "reset":
	default:
		fmt.Fprintf(out, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(out)
		return errMigrateUsage
	}

	opts, err := parseMigrateFlags(sub, rest)
	if err != nil {
		return err
	}
	if opts.all {
		cmd.Name = "down-all"
	}

	migrator, err := createMigrator(opts, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := migration.NewCLI(migrator, migrator.Dialect())
	cli.SetOutput(out)
	return cli.Run(ctx, cmd)
}

func parseMigrateFlags(sub string, args []string) (migrateFlags, error) {
	var opts migrateFlags
	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&opts.dbURL, "db-url", "", "Database connection URL")
	if sub == "down" {
		fs.BoolVar(&opts.all, "all", false, "Rollback all migrations")
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// createMigrator 优先使用 --db-type 与 --db-url，否则从配置文件读取数据库配置
func createMigrator(opts migrateFlags, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if opts.dbType != "" && opts.dbURL != "" {
		return migration.NewMigratorFromURL(opts.dbType, opts.dbURL, logger)
	}

	loader := config.NewLoader()
	if opts.configPath != "" {
		loader = loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbType != "" {
		cfg.Database.Driver = opts.dbType
	}
	if cfg.Database.Driver == "" {
		return nil, errors.New("no database configured: set database.driver or pass --db-type and --db-url")
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  swarmflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all for every migration)
  steps <n>   Apply n migrations, negative n rolls back
  status      Show migration status
  version     Show current migration version
  info        Show a summary of applied and pending migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  swarmflow migrate up
  swarmflow migrate up --config /etc/swarmflow/config.yaml
  swarmflow migrate status --db-type sqlite --db-url "file:swarmflow.db?mode=rwc"
  swarmflow migrate goto 1
  swarmflow migrate force 0
  swarmflow migrate reset`)
}
