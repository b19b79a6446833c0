package patient

import (
	"crypto/sha256"
	"encoding/hex"
)

// keySeparator joins the name and admission date before hashing. Changing it
// would re-key every previously migrated document.
const keySeparator = "|"

// DeriveKey computes the business key for a patient: the hex-encoded SHA-256
// of the normalized name and ISO admission date joined by keySeparator. The
// same (name, date) pair always yields the same key, so re-running a
// migration addresses the existing documents instead of inserting duplicates.
//
// Two distinct patients who share a name and an admission date collide and
// merge into one document. That is inherited from the source data model,
// which has no stronger patient identifier.
func DeriveKey(normalizedName, admissionDate string) string {
	sum := sha256.Sum256([]byte(normalizedName + keySeparator + admissionDate))
	return hex.EncodeToString(sum[:])
}
