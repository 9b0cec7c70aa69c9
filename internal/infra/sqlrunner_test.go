package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func TestExtractMarker(t *testing.T) {
	query := `--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1
select 1;
`
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker returned error: %v", err)
	}
	if marker != "2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q, want %q", body, "select 1;")
	}
}

func TestExtractMarkerRejectsUntaggedQuery(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatalf("expected error for query without marker")
	}
}

func TestQueryRowWithoutMarkerNeverReachesPool(t *testing.T) {
	runner := NewSQLRunner(nil, zerolog.Nop())
	var v int
	err := runner.QueryRow(context.Background(), "select 1").Scan(&v)
	if err == nil {
		t.Fatalf("expected marker error")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(pgx.ErrNoRows) {
		t.Fatalf("pgx.ErrNoRows should be detected")
	}
	wrapped := errors.Join(errors.New("scan job"), pgx.ErrNoRows)
	if !IsNoRows(wrapped) {
		t.Fatalf("wrapped ErrNoRows should be detected")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("unrelated error reported as no rows")
	}
}
