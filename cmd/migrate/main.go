package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory on disk (default: migrations embedded in the binary)")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": *cmd, "dir": *dir})

	// create and validate work on files only and need no config
	switch *cmd {
	case "create":
		if *name == "" {
			fail(ctx, logg, "missing -name for create", nil)
		}
		target := *dir
		if target == "" {
			target = migrate.SourceDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		var err error
		if *dir == "" {
			err = migrate.ValidateFS(migrate.Embedded())
		} else {
			err = migrate.ValidateDir(*dir)
		}
		if err != nil {
			fail(ctx, logg, "validate migrations", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	if cfg.DB.IsSQLite() {
		fail(ctx, logg, "goose migrations target postgres; sqlite uses RXD_AUTO_MIGRATE", nil)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "extract sql.DB", err)
	}
	migrator, err := migrate.NewMigrator(sqlDB, *dir)
	if err != nil {
		fail(ctx, logg, "build migrator", err)
	}

	var applied []migrate.Applied
	switch *cmd {
	case "up":
		applied, err = migrator.Up(ctx)
	case "down":
		applied, err = migrator.Down(ctx)
	case "version":
		target, parseErr := strconv.ParseInt(*version, 10, 64)
		if parseErr != nil {
			fail(ctx, logg, fmt.Sprintf("invalid -version %q (expected YYYYMMDDHHMMSS)", *version), parseErr)
		}
		applied, err = migrator.ToVersion(ctx, target)
	case "status":
		rows, statusErr := migrator.Status(ctx)
		if statusErr != nil {
			fail(ctx, logg, "status", statusErr)
		}
		for _, row := range rows {
			state := "pending"
			if row.Applied {
				state = "applied"
			}
			fmt.Printf("%d\t%s\t%s\n", row.Version, state, row.Path)
		}
		return
	default:
		fail(ctx, logg, "unknown -cmd value: "+*cmd, nil)
	}
	if err != nil {
		fail(ctx, logg, *cmd, err)
	}

	for _, a := range applied {
		fmt.Printf("%s\t%d\t%s\n", a.Direction, a.Version, a.Path)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrate.completed")
}

func fail(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		err = fmt.Errorf("%s", msg)
	}
	logg.Error(ctx, "migrate.failed: "+msg, err)
	os.Exit(1)
}
