package attest

// Envelope is the attestation format produced by the encryption coprocessor.
// The signature covers the SHA-256 hash of the canonical JSON claim.
type Envelope struct {
	Version   string `json:"version"`
	Kind      string `json:"kind"`
	IssuedAt  string `json:"issued_at"`
	Algorithm string `json:"algorithm"`
	ClaimHash string `json:"claim_hash"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

const (
	EnvelopeVersion = "attest-v1"

	KindAdmission = "admission"
	KindOpening   = "opening"
)

// AdmissionClaim binds a raw ciphertext to the submitting identity and the
// record context it is scoped to.
type AdmissionClaim struct {
	Ciphertext string `json:"ciphertext"`
	Owner      string `json:"owner"`
	Context    string `json:"context"`
}

// OpeningClaim binds a set of ciphertext handles to the encoded cleartext
// payload that opens them.
type OpeningClaim struct {
	Handles []string `json:"handles"`
	Payload string   `json:"payload"`
}
