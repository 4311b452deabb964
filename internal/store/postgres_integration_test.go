//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"fleetroute/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}

	run, err := p.CreateRun(t.Context(), "t_it", []byte(`{"nodes":[]}`), "", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	claimed, err := p.ClaimQueuedRuns(t.Context(), 50)
	if err != nil {
		t.Fatalf("ClaimQueuedRuns: %v", err)
	}
	found := false
	for _, r := range claimed {
		found = found || r.ID == run.ID
	}
	if !found {
		t.Fatalf("run %s was not claimed", run.ID)
	}
	if err := p.CompleteRun(t.Context(), run.ID, model.SolveResponse{Status: "FEASIBLE_FOUND"}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, err := p.GetRun(t.Context(), "t_it", run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunSucceeded || got.Result == nil || got.Result.Status != "FEASIBLE_FOUND" {
		t.Fatalf("unexpected run %+v", got)
	}
	if _, _, err := p.ListRuns(t.Context(), "t_it", "", "", 1); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
}
