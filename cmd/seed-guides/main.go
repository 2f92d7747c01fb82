// Package main imports disposal guide summaries into the Postgres store so
// a fresh deployment starts with a populated corpus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/yiwugan/sort-smart/internal/app/services/guides"
	"github.com/yiwugan/sort-smart/internal/app/storage/postgres"
	"github.com/yiwugan/sort-smart/internal/config"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

func main() {
	var (
		dir     = flag.String("dir", "", "Guide directory to import (defaults to GUIDE_DIR)")
		envFile = flag.String("env", "", "Optional .env file providing DATABASE_DSN")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *dir == "" {
		*dir = cfg.Guides.Dir
	}
	if !cfg.Database.Enabled() {
		log.Fatalf("DATABASE_DSN not set; seeding requires the Postgres store")
	}

	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		log.Fatalf("run database migrations: %v", err)
	}

	service := guides.New(postgres.New(db), logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).Named("seed-guides"))

	loaded, err := service.LoadDir(ctx, *dir)
	if err != nil {
		log.Fatalf("import guides: %v", err)
	}

	fmt.Printf("Imported %d guides from %s\n", loaded, *dir)
}
