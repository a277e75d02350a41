package api

// TrackingConsent is the user's data collection consent. It selects the
// consent partition new batches are written to and gates uploads.
type TrackingConsent string

const (
	// ConsentGranted authorizes collection and upload. Batches are written to
	// the granted partition and become upload candidates.
	ConsentGranted TrackingConsent = "granted"
	// ConsentNotGranted forbids collection. Writes are dropped.
	ConsentNotGranted TrackingConsent = "notGranted"
	// ConsentPending buffers data locally without uploading it, until consent
	// resolves to granted (migrate) or notGranted (delete).
	ConsentPending TrackingConsent = "pending"
)

// Valid reports whether c is one of the three known consent values.
func (c TrackingConsent) Valid() bool {
	switch c {
	case ConsentGranted, ConsentNotGranted, ConsentPending:
		return true
	}
	return false
}
