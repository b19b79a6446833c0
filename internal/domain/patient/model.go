package patient

import (
	"time"
)

// Row is one untyped record read from the source dataset. Fields holds the
// raw column values keyed by header name; Line is the 1-based position in
// the source file, kept for error reporting.
type Row struct {
	Line   int
	Fields map[string]string
}

// Record is a row after normalization: trimmed, case-folded, typed. Numeric
// fields are pointers so a missing value survives as null rather than zero.
type Record struct {
	FullName          string
	NormalizedName    string
	Age               *int
	Gender            string
	BloodType         string
	MedicalCondition  string
	AdmissionType     string
	AdmissionDate     time.Time
	DischargeDate     time.Time // zero when the source row has none
	RoomNumber        *int
	Doctor            string
	Hospital          string
	InsuranceProvider string
	BillingAmount     *float64
	Medication        string
	TestResults       string
}

// Document is the persisted patient document. PatientID is the business key
// and the unique index field; one document exists per distinct key.
type Document struct {
	PatientID         string    `bson:"patient_id" json:"patient_id"`
	Name              Name      `bson:"name" json:"name"`
	Age               *int      `bson:"age" json:"age"`
	Gender            string    `bson:"gender" json:"gender"`
	BloodType         string    `bson:"blood_type" json:"blood_type"`
	MedicalCondition  string    `bson:"medical_condition" json:"medical_condition"`
	Admission         Admission `bson:"admission" json:"admission"`
	Doctor            string    `bson:"doctor" json:"doctor"`
	Hospital          string    `bson:"hospital" json:"hospital"`
	InsuranceProvider string    `bson:"insurance_provider" json:"insurance_provider"`
	BillingAmount     *float64  `bson:"billing_amount" json:"billing_amount"`
	Medication        string    `bson:"medication" json:"medication"`
	TestResults       string    `bson:"test_results" json:"test_results"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

// Name groups the display and lookup forms of the patient name.
type Name struct {
	Full       string `bson:"full" json:"full"`
	Normalized string `bson:"normalized" json:"normalized"`
}

// Admission groups the stay-related fields. Dates are ISO YYYY-MM-DD strings;
// DischargeDate is empty when the source row has none.
type Admission struct {
	Type          string `bson:"type" json:"type"`
	Date          string `bson:"date" json:"date"`
	DischargeDate string `bson:"discharge_date" json:"discharge_date"`
	RoomNumber    *int   `bson:"room_number" json:"room_number"`
}

// Source yields rows from a dataset file. Next returns io.EOF after the last
// row. Columns returns the header when the format has one (nil otherwise),
// so callers can warn about missing canonical columns up front.
type Source interface {
	Next() (*Row, error)
	Columns() []string
	Close() error
}
