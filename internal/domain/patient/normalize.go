package patient

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Canonical dataset columns. Unknown columns are ignored; missing ones are
// reported by MissingColumns but never abort a run.
const (
	colName        = "Name"
	colAge         = "Age"
	colGender      = "Gender"
	colBloodType   = "Blood Type"
	colCondition   = "Medical Condition"
	colAdmission   = "Date of Admission"
	colDoctor      = "Doctor"
	colHospital    = "Hospital"
	colInsurance   = "Insurance Provider"
	colBilling     = "Billing Amount"
	colRoom        = "Room Number"
	colAdmitType   = "Admission Type"
	colDischarge   = "Discharge Date"
	colMedication  = "Medication"
	colTestResults = "Test Results"
)

var canonicalColumns = []string{
	colName, colAge, colGender, colBloodType, colCondition, colAdmission,
	colDoctor, colHospital, colInsurance, colBilling, colRoom, colAdmitType,
	colDischarge, colMedication, colTestResults,
}

// dateLayout is the canonical on-disk date form.
const dateLayout = "2006-01-02"

// dateLayouts are the accepted input forms, tried in order.
var dateLayouts = []string{
	dateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// Normalize converts one raw row into a typed Record. It is a pure function:
// the only failure mode is a *RowError carrying the row's line number.
// String fields default to "" and numeric fields to null when absent; the row
// fails only when a key-derivation field (name, admission date) is missing or
// unparseable, a numeric field is negative, or the discharge date precedes
// the admission date.
func Normalize(row Row) (*Record, error) {
	name := collapseSpace(row.field(colName))
	if name == "" {
		return nil, &RowError{Line: row.Line, Field: colName, Reason: "required"}
	}

	admitRaw := row.field(colAdmission)
	if admitRaw == "" {
		return nil, &RowError{Line: row.Line, Field: colAdmission, Reason: "required"}
	}
	admitted, err := parseDate(admitRaw)
	if err != nil {
		return nil, &RowError{Line: row.Line, Field: colAdmission, Reason: err.Error()}
	}

	rec := &Record{
		FullName:          titleCase(name),
		NormalizedName:    strings.ToLower(name),
		Gender:            row.field(colGender),
		BloodType:         row.field(colBloodType),
		MedicalCondition:  row.field(colCondition),
		AdmissionType:     row.field(colAdmitType),
		AdmissionDate:     admitted,
		Doctor:            row.field(colDoctor),
		Hospital:          row.field(colHospital),
		InsuranceProvider: row.field(colInsurance),
		Medication:        row.field(colMedication),
		TestResults:       row.field(colTestResults),
	}

	if v := row.field(colAge); v != "" {
		if n, ok := parseInt(v); ok {
			if n < 0 {
				return nil, &RowError{Line: row.Line, Field: colAge, Reason: "negative"}
			}
			rec.Age = &n
		}
	}

	if v := row.field(colRoom); v != "" {
		if n, ok := parseInt(v); ok {
			rec.RoomNumber = &n
		}
	}

	if v := row.field(colBilling); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if f < 0 {
				return nil, &RowError{Line: row.Line, Field: colBilling, Reason: "negative"}
			}
			rounded := math.Round(f*100) / 100
			rec.BillingAmount = &rounded
		}
	}

	if v := row.field(colDischarge); v != "" {
		if d, err := parseDate(v); err == nil {
			if d.Before(admitted) {
				return nil, &RowError{Line: row.Line, Field: colDischarge, Reason: "before admission date"}
			}
			rec.DischargeDate = d
		}
	}

	return rec, nil
}

// MissingColumns reports which canonical columns are absent from a dataset
// header. A nil header (formats without one) reports nothing.
func MissingColumns(header []string) []string {
	if header == nil {
		return nil
	}
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, c := range canonicalColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// field returns the trimmed value of a column, "" when absent.
func (r Row) field(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

// collapseSpace trims and folds inner whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest, so "bobby JACKSON" and "o'neil" become
// "Bobby Jackson" and "O'Neil". Previously migrated documents carry this
// casing, so it must not change.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}

// parseInt accepts plain integers and float renderings like "30.0".
func parseInt(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// parseDate tries each accepted layout and truncates to a UTC date.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
