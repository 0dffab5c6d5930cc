package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	dbfs "github.com/garnizeh/taskgate/db"
	"github.com/garnizeh/taskgate/internal/config"
	"github.com/garnizeh/taskgate/internal/db"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config YAML file")
	noSeed := pflag.Bool("no-seed", false, "Skip the category rule seeds")
	pflag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	var seeds fs.FS = dbfs.SeedFiles
	if *noSeed {
		seeds = nil
	}
	if err := db.Migrate(ctx, database, dbfs.Migrations, seeds); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database %s initialized successfully.\n", cfg.DatabasePath)
}
