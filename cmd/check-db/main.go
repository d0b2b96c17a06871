// Package main is a diagnostic tool for database connectivity and the state of
// the audit trail. It connects with the server's configuration, prints the
// schema version and a per-action summary of recorded events, and exits
// non-zero on any failure so it can gate deployments in CI/CD pipelines.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	fmt.Println("=== SCHEMA ===")
	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		log.Fatal("Schema is dirty; run fix-migration")
	}

	fmt.Println("\n=== AUDIT RECORDS ===")
	counts, err := repositories.NewAuditRepository(database).CountByAction(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	total := 0
	for _, c := range counts {
		fmt.Printf("%-14s %8d  latest %s\n", c.Action, c.Count, c.Latest.UTC().Format(time.RFC3339))
		total += c.Count
	}

	if total == 0 {
		fmt.Println("No audit records found!")
		return
	}
	fmt.Printf("Total: %d\n", total)
}
