package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// Exit codes: 0 all migrations applied, 1 configuration error (missing
// DATABASE_URL, unreachable database, unreadable directory), 2 one or more
// migration files failed.

// requiredTables is the schema the service expects after migration.
var requiredTables = []string{
	"monitor_clients",
	"monitor_criteria",
	"monitor_agents",
	"monitor_matches",
	"monitor_crm_outbox",
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "FATAL: DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		switch a {
		case "--list":
			listOnly = true
		case "--help", "-h":
			fmt.Println("Usage: migrate [--list] [dir]")
			fmt.Println("  Applies every *.sql file in dir (default ./migrations), sorted,")
			fmt.Println("  each in its own transaction, then verifies the monitor_ tables exist.")
			return
		default:
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: ping: %v\n", err)
		os.Exit(1)
	}
	log.Println("Connected to database")

	if listOnly {
		listTables(db)
		return
	}

	files, err := sqlFiles(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read migrations dir %s: %v\n", dir, err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no .sql files in %s\n", dir)
		os.Exit(1)
	}

	failed := 0
	for _, f := range files {
		if err := applyOne(db, filepath.Join(dir, f)); err != nil {
			fmt.Printf("  %s ... ERROR: %v\n", f, err)
			failed++
		} else {
			fmt.Printf("  %s ... OK\n", f)
		}
	}

	missing := missingTables(db)
	for _, t := range missing {
		fmt.Printf("  MISSING TABLE: %s\n", t)
	}

	if failed > 0 || len(missing) > 0 {
		log.Printf("Migration FAILED: %d file(s) errored, %d table(s) missing", failed, len(missing))
		os.Exit(2)
	}
	log.Printf("Migrations complete: %d file(s) applied, schema verified", len(files))
}

// sqlFiles returns the .sql entries of dir in lexical (and therefore
// numeric-prefix) order.
func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// applyOne runs a single migration file inside its own transaction so a
// failing statement leaves no partial objects behind.
func applyOne(db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(db *sql.DB) {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename LIKE 'monitor_%' ORDER BY tablename")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		rows.Scan(&t)
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
}

func missingTables(db *sql.DB) []string {
	var missing []string
	for _, t := range requiredTables {
		var one int
		err := db.QueryRow("SELECT 1 FROM pg_tables WHERE schemaname='public' AND tablename=$1", t).Scan(&one)
		if err != nil {
			missing = append(missing, t)
		}
	}
	return missing
}
