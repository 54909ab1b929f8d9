package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/noah-isme/account-api/migrations"
	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/database"
)

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", time.Minute, "maximum time for the command")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-timeout 1m] up|down|status\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = database.Migrate(ctx, db.DB, migrations.FS)
	case "down":
		err = database.Rollback(ctx, db.DB, migrations.FS)
	case "status":
		err = database.Status(ctx, db.DB, migrations.FS)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
