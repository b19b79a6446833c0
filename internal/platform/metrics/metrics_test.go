package metrics

import (
	"testing"
	"time"
)

func TestObserveRun(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(100, 98, 40, 58, 2, 3, 3*time.Second)

	families, err := r.registry.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				got[mf.GetName()] = c.GetValue()
			} else if g := m.GetGauge(); g != nil {
				got[mf.GetName()] = g.GetValue()
			}
		}
	}

	want := map[string]float64{
		"migrate_rows_read_total":          100,
		"migrate_rows_normalized_total":    98,
		"migrate_documents_inserted_total": 40,
		"migrate_documents_updated_total":  58,
		"migrate_documents_failed_total":   2,
		"migrate_write_retries_total":      3,
		"migrate_run_duration_seconds":     3,
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("%s = %v, want %v", name, got[name], value)
		}
	}
	if got["migrate_last_run_timestamp_seconds"] == 0 {
		t.Error("expected last run timestamp to be set")
	}
}
