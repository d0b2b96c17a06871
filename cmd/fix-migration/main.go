// Package main is a repair tool for dirty migration state in the audit trail
// database. Dirty state occurs when the golang-migrate runner marks a version
// as in-progress but the process was interrupted before it completed, after
// which `server serve` refuses to start. This tool reads the current state and,
// once the operator has repaired the schema by hand, forces the version so the
// runner can continue cleanly on the next startup.
//
// Usage:
//
//	fix-migration            # report the current version and dirty flag
//	fix-migration <version>  # force <version> and clear the dirty flag
package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(context.Background(), &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if len(os.Args) < 2 {
		if dirty {
			log.Println("Repair the schema by hand, then rerun with the version it now matches")
		}
		return
	}

	target, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("Invalid version %q: %v", os.Args[1], err)
	}
	if err := db.ForceMigrationVersion(database.DB, target); err != nil {
		log.Fatalf("Failed to fix migration state: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
