package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles(Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected documents and publications migrations, got %v", files)
	}
	if !strings.HasPrefix(files[0], "0001_") {
		t.Fatalf("first migration = %s", files[0])
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".down.sql") {
			t.Fatalf("down migration %s selected as up", f)
		}
	}
}

func TestPublishedPagesCarrySearchVector(t *testing.T) {
	contents, err := fs.ReadFile(Migrations(), "0002_publications.up.sql")
	if err != nil {
		t.Fatalf("read publications migration: %v", err)
	}
	sql := string(contents)
	for _, want := range []string{"published_pages", "search_vector", "USING GIN"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("publications migration missing %q", want)
		}
	}
}
