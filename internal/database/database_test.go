package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("reading embedded migrations dir: %v", err)
	}

	if len(entries) == 0 {
		t.Fatal("no migration files embedded")
	}

	var hasUp, hasDown bool
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".up.sql") {
			hasUp = true
		}
		if strings.HasSuffix(name, ".down.sql") {
			hasDown = true
		}
	}

	if !hasUp {
		t.Error("no .up.sql migration files found")
	}
	if !hasDown {
		t.Error("no .down.sql migration files found")
	}
}

func TestMigration000001_Content(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("reading 000001_initial_schema.up.sql: %v", err)
	}

	content := string(data)
	expectedTables := []string{
		"CREATE TABLE servers",
		"CREATE TABLE users",
		"CREATE TABLE categories",
		"CREATE TABLE channels",
		"CREATE TABLE messages",
		"CREATE TABLE channel_read_states",
		"CREATE TABLE moderation_actions",
		"CREATE TABLE ban_rules",
		"CREATE TABLE folder_channel_files",
		"CREATE TABLE rss_channel_items",
	}

	for _, table := range expectedTables {
		if !strings.Contains(content, table) {
			t.Errorf("migration missing expected SQL: %s", table)
		}
	}
}

func TestMigration000001_Down(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/000001_initial_schema.down.sql")
	if err != nil {
		t.Fatalf("reading 000001_initial_schema.down.sql: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "DROP TABLE") {
		t.Error("down migration should contain DROP TABLE statements")
	}
}
