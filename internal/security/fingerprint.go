package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// FingerprintHashRounds is the total number of SHA-256 applications used to
// derive a device fingerprint: one over the canonical signal payload, then a
// feedback loop mixing in the round index. The heavy count amplifies the
// cost of brute-forcing fingerprints; it is not a credential KDF and must
// not be treated as one.
const FingerprintHashRounds = 1001

// DeviceSignals is the environment probe set submitted by a client. Field
// order is fixed, so the JSON serialization is canonical and the derived
// fingerprint is deterministic for an unchanged environment.
type DeviceSignals struct {
	UserAgent           string   `json:"userAgent"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	Platform            string   `json:"platform"`
	Timezone            string   `json:"timezone"`
	Screen              string   `json:"screen"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	CookiesEnabled      bool     `json:"cookieEnabled"`
	DoNotTrack          string   `json:"doNotTrack"`
	CanvasHash          string   `json:"canvasFingerprint"`
	WebGLRenderer       string   `json:"webglFingerprint"`
	AudioHash           string   `json:"audioFingerprint"`
}

// Fingerprinter derives stable, high-entropy device identifiers from client
// signal sets. It holds no state and stores nothing.
type Fingerprinter struct {
	rounds int
}

// NewFingerprinter constructs a Fingerprinter with the default round count.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{rounds: FingerprintHashRounds}
}

// Generate returns the hex-encoded fingerprint for the given signals. Equal
// signal sets always produce equal fingerprints; changing any single signal
// changes the result.
func (f *Fingerprinter) Generate(signals DeviceSignals) string {
	payload, err := json.Marshal(signals)
	if err != nil {
		// DeviceSignals contains only marshalable field types.
		panic("fingerprint: marshal signals: " + err.Error())
	}

	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	for i := 0; i < f.rounds-1; i++ {
		sum = sha256.Sum256([]byte(hash + strconv.Itoa(i)))
		hash = hex.EncodeToString(sum[:])
	}

	return hash
}
