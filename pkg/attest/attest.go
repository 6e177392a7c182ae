package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrWrongKind          = errors.New("wrong attestation kind")
	ErrInvalidIssuedAt    = errors.New("invalid issued_at")
	ErrClaimHashMismatch  = errors.New("claim hash mismatch")
	ErrUntrustedKey       = errors.New("untrusted attestation key")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidEncoding    = errors.New("invalid encoding")
)

type VerifyResult struct {
	IssuedAt time.Time
}

// ClaimSHA256 hashes the canonical JSON form of a claim: json.Marshal bytes
// hashed with SHA-256, lower hex.
func ClaimSHA256(claim any) (hexHash string, raw []byte, err error) {
	b, err := json.Marshal(claim)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// Sign mints an attestation envelope over claim, signed with the coprocessor
// key. The signature covers the claim hash bytes.
func Sign(priv ed25519.PrivateKey, kind string, claim any, issuedAt time.Time) ([]byte, error) {
	hashHex, _, err := ClaimSHA256(claim)
	if err != nil {
		return nil, err
	}
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidEncoding
	}
	env := Envelope{
		Version:   EnvelopeVersion,
		Kind:      kind,
		IssuedAt:  issuedAt.UTC().Format(time.RFC3339Nano),
		Algorithm: "ed25519",
		ClaimHash: hashHex,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, hashBytes)),
	}
	return json.Marshal(env)
}

// Verify checks an attestation envelope against the expected claim and the
// trusted coprocessor key. Every check is strict: version, kind, UTC
// timestamp, claim hash, issuer key, signature.
func Verify(trusted ed25519.PublicKey, kind string, claim any, proof []byte) (VerifyResult, error) {
	var env Envelope
	if err := json.Unmarshal(proof, &env); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: envelope not json", ErrInvalidEncoding)
	}
	return VerifyEnvelope(trusted, kind, claim, env)
}

func VerifyEnvelope(trusted ed25519.PublicKey, kind string, claim any, env Envelope) (VerifyResult, error) {
	if strings.TrimSpace(env.Version) != EnvelopeVersion {
		return VerifyResult{}, ErrUnsupportedVersion
	}
	if strings.TrimSpace(env.Kind) != kind {
		return VerifyResult{}, ErrWrongKind
	}
	if strings.TrimSpace(env.IssuedAt) == "" {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, env.IssuedAt)
	if err != nil {
		return VerifyResult{}, ErrInvalidIssuedAt
	}
	if !strings.HasSuffix(env.IssuedAt, "Z") || !issuedAt.Equal(issuedAt.UTC()) {
		return VerifyResult{}, ErrInvalidIssuedAt
	}

	expectedHex, _, err := ClaimSHA256(claim)
	if err != nil {
		return VerifyResult{}, err
	}
	expectedBytes, err := hex.DecodeString(expectedHex)
	if err != nil {
		return VerifyResult{}, ErrInvalidEncoding
	}
	claimHashBytes, err := decodeLowerHex32(strings.TrimSpace(env.ClaimHash))
	if err != nil {
		return VerifyResult{}, err
	}
	if subtle.ConstantTimeCompare(expectedBytes, claimHashBytes) != 1 {
		return VerifyResult{}, ErrClaimHashMismatch
	}

	if strings.ToLower(strings.TrimSpace(env.Algorithm)) != "ed25519" {
		return VerifyResult{}, ErrUnsupportedVersion
	}
	publicKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.PublicKey))
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return VerifyResult{}, ErrInvalidEncoding
	}
	if subtle.ConstantTimeCompare(publicKey, trusted) != 1 {
		return VerifyResult{}, ErrUntrustedKey
	}
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Signature))
	if err != nil || len(signature) != ed25519.SignatureSize {
		return VerifyResult{}, ErrInvalidEncoding
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), claimHashBytes, signature) {
		return VerifyResult{}, ErrInvalidSignature
	}
	return VerifyResult{IssuedAt: issuedAt.UTC()}, nil
}

func decodeLowerHex32(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidEncoding
	}
	if s != strings.ToLower(s) {
		return nil, ErrInvalidEncoding
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: claim_hash length", ErrInvalidEncoding)
	}
	return b, nil
}
