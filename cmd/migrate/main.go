package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/database"
	"github.com/frostdev-ops/devtest-backend-go/pkg/logger"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to roll back with down (0 = all)")
	embedded := flag.Bool("embedded", false, "use the migrations compiled into the binary")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.Database.AutoMigrate = false

	path := cfg.Database.MigrationsPath
	if *embedded {
		path = ""
	}

	db, err := database.Initialize(cfg.Database, log.Logger)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	switch flag.Arg(0) {
	case "up":
		if err := database.Migrate(db, path); err != nil {
			log.Fatal(err)
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := database.Rollback(db, path, *steps); err != nil {
			log.Fatal(err)
		}
		log.Info("Migrations rolled back successfully")
	case "version":
		v, dirty, err := database.Version(db, path)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
	default:
		log.Fatalf("Unknown command: %s. Use up, down or version.", flag.Arg(0))
	}
}
