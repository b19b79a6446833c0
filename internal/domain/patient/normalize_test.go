package patient

import (
	"errors"
	"testing"
)

func testRow(over map[string]string) Row {
	fields := map[string]string{
		colName:        "Bobby JackSon",
		colAge:         "30",
		colGender:      "Male",
		colBloodType:   "B-",
		colCondition:   "Cancer",
		colAdmission:   "2024-01-31",
		colDoctor:      "Matthew Smith",
		colHospital:    "Sons and Miller",
		colInsurance:   "Blue Cross",
		colBilling:     "18856.281305978155",
		colRoom:        "328",
		colAdmitType:   "Urgent",
		colDischarge:   "2024-02-02",
		colMedication:  "Paracetamol",
		colTestResults: "Normal",
	}
	for k, v := range over {
		if v == "" {
			delete(fields, k)
		} else {
			fields[k] = v
		}
	}
	return Row{Line: 2, Fields: fields}
}

func TestNormalize(t *testing.T) {
	rec, err := Normalize(testRow(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.FullName != "Bobby Jackson" {
		t.Errorf("expected full name 'Bobby Jackson', got %q", rec.FullName)
	}
	if rec.NormalizedName != "bobby jackson" {
		t.Errorf("expected normalized name 'bobby jackson', got %q", rec.NormalizedName)
	}
	if rec.Age == nil || *rec.Age != 30 {
		t.Errorf("expected age 30, got %v", rec.Age)
	}
	if rec.AdmissionDate.Format("2006-01-02") != "2024-01-31" {
		t.Errorf("unexpected admission date %v", rec.AdmissionDate)
	}
	if rec.DischargeDate.Format("2006-01-02") != "2024-02-02" {
		t.Errorf("unexpected discharge date %v", rec.DischargeDate)
	}
	if rec.BillingAmount == nil || *rec.BillingAmount != 18856.28 {
		t.Errorf("expected billing 18856.28, got %v", rec.BillingAmount)
	}
	if rec.RoomNumber == nil || *rec.RoomNumber != 328 {
		t.Errorf("expected room 328, got %v", rec.RoomNumber)
	}
	if rec.MedicalCondition != "Cancer" {
		t.Errorf("expected condition Cancer, got %q", rec.MedicalCondition)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	rec, err := Normalize(testRow(map[string]string{colName: "  LESLIE   terry "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.FullName != "Leslie Terry" {
		t.Errorf("expected 'Leslie Terry', got %q", rec.FullName)
	}
	if rec.NormalizedName != "leslie terry" {
		t.Errorf("expected 'leslie terry', got %q", rec.NormalizedName)
	}
}

func TestNormalizeNameRequired(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colName: "   "}))
	var re *RowError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RowError, got %v", err)
	}
	if re.Field != colName {
		t.Errorf("expected field %q, got %q", colName, re.Field)
	}
	if re.Line != 2 {
		t.Errorf("expected line 2, got %d", re.Line)
	}
}

func TestNormalizeAdmissionDateRequired(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colAdmission: ""}))
	var re *RowError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RowError, got %v", err)
	}
	if re.Field != colAdmission {
		t.Errorf("expected field %q, got %q", colAdmission, re.Field)
	}
}

func TestNormalizeAdmissionDateUnparseable(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colAdmission: "not-a-date"}))
	if err == nil {
		t.Fatal("expected error for unparseable admission date")
	}
}

func TestNormalizeDateFormats(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-01-31", "2024-01-31"},
		{"2024/01/31", "2024-01-31"},
		{"01/31/2024", "2024-01-31"},
		{"2024-01-31 14:30:00", "2024-01-31"},
		{"2024-01-31T14:30:00Z", "2024-01-31"},
	}
	for _, c := range cases {
		rec, err := Normalize(testRow(map[string]string{colAdmission: c.in, colDischarge: ""}))
		if err != nil {
			t.Errorf("%q: unexpected error: %v", c.in, err)
			continue
		}
		if got := rec.AdmissionDate.Format("2006-01-02"); got != c.want {
			t.Errorf("%q: expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestNormalizeNegativeAge(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colAge: "-5"}))
	if err == nil {
		t.Fatal("expected error for negative age")
	}
}

func TestNormalizeBadAgeIsNull(t *testing.T) {
	rec, err := Normalize(testRow(map[string]string{colAge: "unknown"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Age != nil {
		t.Errorf("expected nil age, got %d", *rec.Age)
	}
}

func TestNormalizeFloatAge(t *testing.T) {
	rec, err := Normalize(testRow(map[string]string{colAge: "30.0"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Age == nil || *rec.Age != 30 {
		t.Errorf("expected age 30, got %v", rec.Age)
	}
}

func TestNormalizeNegativeBilling(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colBilling: "-12.50"}))
	if err == nil {
		t.Fatal("expected error for negative billing amount")
	}
}

func TestNormalizeMissingOptionalsAreNull(t *testing.T) {
	rec, err := Normalize(testRow(map[string]string{
		colAge: "", colBilling: "", colRoom: "", colDischarge: "", colGender: "",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Age != nil || rec.BillingAmount != nil || rec.RoomNumber != nil {
		t.Error("expected nil numeric fields when source values are absent")
	}
	if !rec.DischargeDate.IsZero() {
		t.Error("expected zero discharge date")
	}
	if rec.Gender != "" {
		t.Errorf("expected empty gender, got %q", rec.Gender)
	}
}

func TestNormalizeDischargeBeforeAdmission(t *testing.T) {
	_, err := Normalize(testRow(map[string]string{colDischarge: "2024-01-01"}))
	var re *RowError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RowError, got %v", err)
	}
	if re.Field != colDischarge {
		t.Errorf("expected field %q, got %q", colDischarge, re.Field)
	}
}

func TestNormalizeUnparseableDischargeIsDropped(t *testing.T) {
	rec, err := Normalize(testRow(map[string]string{colDischarge: "pending"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.DischargeDate.IsZero() {
		t.Error("expected unparseable discharge date to be dropped")
	}
}

func TestMissingColumns(t *testing.T) {
	missing := MissingColumns([]string{colName, colAge, colAdmission})
	if len(missing) != len(canonicalColumns)-3 {
		t.Errorf("expected %d missing columns, got %d", len(canonicalColumns)-3, len(missing))
	}

	if got := MissingColumns(canonicalColumns); got != nil {
		t.Errorf("expected no missing columns, got %v", got)
	}

	if got := MissingColumns(nil); got != nil {
		t.Errorf("expected nil for headerless formats, got %v", got)
	}
}

func TestTitleCase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"bobby jackson", "Bobby Jackson"},
		{"LESLIE TERRY", "Leslie Terry"},
		{"o'neil", "O'Neil"},
		{"mary-jane smith", "Mary-Jane Smith"},
		{"", ""},
	}
	for _, c := range cases {
		if got := titleCase(c.in); got != c.want {
			t.Errorf("titleCase(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
