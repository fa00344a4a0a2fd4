package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"TimeMarket/internal/config"
	"TimeMarket/internal/core"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/persistence"
	"TimeMarket/internal/projection"
	"TimeMarket/internal/recovery"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
)

const usage = `Usage: migrate [flags] <up|down|status|rebuild>
  up      - apply all pending migrations
  down    - roll back the last migration
  status  - list migrations not yet applied
  rebuild - truncate the read models and replay the event log into them

Flags:
`

func main() {
	// Environment and .env supply the defaults; flags below override them.
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	observability.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	logger := observability.NewLogger("migrate")

	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	dsn := flags.String("dsn", cfg.PostgresDSN, "Postgres connection string")
	dir := flags.String("migrations", cfg.MigrationsDir, "migrations directory (default: embedded)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	cfg.MigrationsDir = *dir
	migrator, err := persistence.NewMigrator(db, cfg.MigrationsFS())
	if err != nil {
		logger.Fatal().Err(err).Msg("load migrations")
	}

	switch cmd := flags.Arg(0); cmd {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("schema up to date")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		pending, err := migrator.Pending(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration status")
		}
		for _, m := range pending {
			fmt.Printf("pending %s_%s\n", m.Version, m.Name)
		}
		if len(pending) == 0 {
			fmt.Println("schema up to date")
		}

	case "rebuild":
		coreCfg, err := cfg.CoreConfig()
		if err != nil {
			logger.Fatal().Err(err).Msg("core config")
		}
		outputs := make(chan core.CoreOutput, 1024)
		replayErr := make(chan error, 1)
		go func() {
			_, err := recovery.Outputs(ctx, persistence.NewStore(db), coreCfg, outputs)
			replayErr <- err
		}()
		if err := projection.Rebuild(ctx, db, outputs); err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}
		if err := <-replayErr; err != nil {
			logger.Fatal().Err(err).Msg("replay event log")
		}
		logger.Info().Msg("projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		flags.Usage()
		os.Exit(1)
	}
}
