package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/school-ledger-api/internal/config"
	"github.com/sjperalta/school-ledger-api/internal/database"
	"github.com/sjperalta/school-ledger-api/pkg/logger"
)

func main() {
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [-steps N] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Setup(cfg.Environment, cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL, "production")
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch flag.Arg(0) {
	case "up":
		err = database.Migrate(sqlDB)
	case "down":
		err = database.Rollback(sqlDB, *steps)
	case "version":
		version, dirty, verr := database.Version(sqlDB)
		if verr == nil {
			logger.Info("Schema version", "version", version, "dirty", dirty)
		}
		err = verr
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Migration command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	logger.Info("Migration command finished", "command", flag.Arg(0))
}
