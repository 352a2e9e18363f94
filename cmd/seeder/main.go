//cmd/seeder/main.go
package main

import (
	"database/sql"
	"os"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/campaigns.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("failed to read seed file", "file", file, "error", err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			log.Fatal("failed to execute seed file", "file", file, "error", err)
		}
		log.Info("seeded", "file", file)
	}

	log.Info("database seeding completed")
}
