package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/evidentta/controlverify/internal/infrastructure/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		dir        = flag.String("dir", "migrations", "migrations directory")
		action     = flag.String("action", "up", "migration action: up, down, version")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*dir, cfg.Database.URL)
	if err != nil {
		logger.Error("creating migrator", slog.Any("error", err))
		os.Exit(1)
	}
	defer m.Close()

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = m.Version()
		if err == nil {
			logger.Info("migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		}
	default:
		logger.Error("unknown action", slog.String("action", *action))
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", slog.String("action", *action), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migration complete", slog.String("action", *action))
}
