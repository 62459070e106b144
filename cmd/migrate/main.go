package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"giftrelay/internal/config"
	"giftrelay/internal/db"
)

func main() {
	dir := flag.String("dir", "migrations", "directory with .sql migration files")
	dsn := flag.String("dsn", "", "database DSN (defaults to the configured one)")
	flag.Parse()

	if err := run(context.Background(), *dir, *dsn); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, dir, dsn string) error {
	if dsn == "" {
		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		dsn = cfg.DB.DSN
	}

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema table failed: %w", err)
	}

	files, err := pendingFiles(ctx, pool, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Print("nothing to apply")
		return nil
	}

	for _, file := range files {
		if err := apply(ctx, pool, file); err != nil {
			return fmt.Errorf("apply %s failed: %w", file, err)
		}
		log.Printf("applied %s", file)
	}
	return nil
}

// pendingFiles returns the .sql files under dir that are not yet recorded in
// schema_migrations, sorted by filename. Filename order is the migration
// order.
func pendingFiles(ctx context.Context, pool *db.Pool, dir string) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations failed: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	files, err := listSQLFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations failed: %w", err)
	}
	pending := files[:0]
	for _, f := range files {
		if !applied[f] {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func apply(ctx context.Context, pool *db.Pool, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) != "" {
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return err
		}
	}
	_, err = pool.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file)
	return err
}
