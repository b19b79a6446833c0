package patient

import (
	"time"
)

// BuildDocument assembles the persisted document for a normalized record.
// CreatedAt and UpdatedAt are both stamped with now; the store's upsert keeps
// the original created_at on updates, so the builder never needs to know
// whether the key already exists.
func BuildDocument(rec *Record, key string, now time.Time) *Document {
	// BSON datetimes carry millisecond precision.
	now = now.UTC().Truncate(time.Millisecond)

	doc := &Document{
		PatientID: key,
		Name: Name{
			Full:       rec.FullName,
			Normalized: rec.NormalizedName,
		},
		Age:              rec.Age,
		Gender:           rec.Gender,
		BloodType:        rec.BloodType,
		MedicalCondition: rec.MedicalCondition,
		Admission: Admission{
			Type:       rec.AdmissionType,
			Date:       rec.AdmissionDate.Format(dateLayout),
			RoomNumber: rec.RoomNumber,
		},
		Doctor:            rec.Doctor,
		Hospital:          rec.Hospital,
		InsuranceProvider: rec.InsuranceProvider,
		BillingAmount:     rec.BillingAmount,
		Medication:        rec.Medication,
		TestResults:       rec.TestResults,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !rec.DischargeDate.IsZero() {
		doc.Admission.DischargeDate = rec.DischargeDate.Format(dateLayout)
	}
	return doc
}
