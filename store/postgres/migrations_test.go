package postgres_test

import (
	"testing"

	"github.com/xraph/getanswer/store/postgres"
)

func TestMigrationsRegistered(t *testing.T) {
	if got := postgres.Migrations.Name(); got != "getanswer" {
		t.Errorf("Name() = %q, want %q", got, "getanswer")
	}

	ms := postgres.Migrations.Migrations()
	if len(ms) != 1 {
		t.Fatalf("len(Migrations()) = %d, want 1", len(ms))
	}
	m := ms[0]
	if m.Name != "create_getanswer_kv" || m.Version != "20260101000001" {
		t.Errorf("migration = %s@%s", m.Name, m.Version)
	}
	if m.Up == nil || m.Down == nil {
		t.Error("migration missing Up or Down")
	}
}
