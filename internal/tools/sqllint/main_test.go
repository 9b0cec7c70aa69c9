package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLinterFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	a := writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 11111111-2222-3333-4444-555555555555\nselect 1;\n`\n\nconst QBad = `select 2;`\n")
	b := writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `--sql 11111111-2222-3333-4444-555555555555\nselect 3;\n`\n\nconst Label = \"not sql\"\n")

	l := newLinter()
	for _, path := range []string{a, b} {
		if err := l.lintFile(path); err != nil {
			t.Fatalf("lintFile(%s): %v", path, err)
		}
	}
	if len(l.violations) != 2 {
		t.Fatalf("violations = %d, want 2: %+v", len(l.violations), l.violations)
	}
	if l.violations[0].name != "QBad" {
		t.Fatalf("first violation = %+v, want QBad", l.violations[0])
	}
	if l.violations[1].name != "QTwo" || !strings.Contains(l.violations[1].message, "reused") {
		t.Fatalf("second violation = %+v, want reused marker on QTwo", l.violations[1])
	}
}

func TestRepositorySQLIsClean(t *testing.T) {
	dir := filepath.Join("..", "..", "sqlinline")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read sqlinline: %v", err)
	}
	l := newLinter()
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".go" {
			continue
		}
		if err := l.lintFile(filepath.Join(dir, e.Name())); err != nil {
			t.Fatalf("lintFile: %v", err)
		}
	}
	for _, v := range l.violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
}
