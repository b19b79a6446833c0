package patient

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewPGStoreTableValidation(t *testing.T) {
	for _, name := range []string{"patients", "patient_records", "_staging", "p2024"} {
		if _, err := NewPGStore(nil, name); err != nil {
			t.Errorf("expected %q to be accepted: %v", name, err)
		}
	}
	for _, name := range []string{"", "Patients", "2024", "pa tients", "patients;drop", "pa-tients"} {
		if _, err := NewPGStore(nil, name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestUpsertSQLPreservesCreatedAt(t *testing.T) {
	s, err := NewPGStore(nil, "patients")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql := s.upsertSQL()
	if !strings.Contains(sql, "ON CONFLICT (patient_id) DO UPDATE") {
		t.Error("expected upsert on the business key")
	}
	if !strings.Contains(sql, "RETURNING (xmax = 0)") {
		t.Error("expected insert/update discrimination via xmax")
	}
	if strings.Contains(sql, "created_at = EXCLUDED.created_at") {
		t.Error("conflict update must not rewrite created_at")
	}
}

func TestPGDocJSON(t *testing.T) {
	rec := testRecord()
	doc := BuildDocument(rec, "key", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	body, err := pgDocJSON(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := fields["created_at"]; ok {
		t.Error("document body must not carry created_at")
	}
	if _, ok := fields["updated_at"]; ok {
		t.Error("document body must not carry updated_at")
	}
	if fields["patient_id"] != "key" {
		t.Errorf("expected patient_id in body, got %v", fields["patient_id"])
	}
	name, ok := fields["name"].(map[string]any)
	if !ok || name["normalized"] != "bobby jackson" {
		t.Errorf("unexpected name group: %v", fields["name"])
	}
}

func TestIsTransientPG(t *testing.T) {
	transient := []string{"40001", "40P01", "57P03", "08006", "08001", "53300"}
	for _, code := range transient {
		if !isTransientPG(&pgconn.PgError{Code: code}) {
			t.Errorf("expected code %s to be transient", code)
		}
	}
	permanent := []string{"23505", "42601", "22P02"}
	for _, code := range permanent {
		if isTransientPG(&pgconn.PgError{Code: code}) {
			t.Errorf("expected code %s to be permanent", code)
		}
	}
	if isTransientPG(nil) {
		t.Error("nil error must not be transient")
	}
	if isTransientPG(errors.New("syntax error")) {
		t.Error("plain errors must not be transient")
	}
}
