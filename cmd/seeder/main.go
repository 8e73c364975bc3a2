// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unclebandit/crces-dispatch/internal/config"
	"github.com/unclebandit/crces-dispatch/internal/db"
	"github.com/unclebandit/crces-dispatch/internal/logger"
)

// seedFiles run in order; later files reference rows of earlier ones.
var seedFiles = []string{
	"templates.sql",
	"contacts.sql",
	"contact_set_members.sql",
}

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed SQL files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalLog := logger.New("production")
		fatalLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.AppEnv)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	for _, name := range seedFiles {
		file := filepath.Join(*dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to execute seed file")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	fmt.Println("Database seeding completed successfully!")
}
