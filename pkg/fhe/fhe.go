// Package fhe defines the boundary with the external homomorphic-encryption
// coprocessor. The registry never sees plaintext at submission time; it only
// holds opaque ciphertext handles and consumes the coprocessor's verification
// primitives through the Coprocessor capability interface.
package fhe

import (
	"context"
	"encoding/binary"
	"errors"
)

// Handle is an opaque reference to an encrypted scalar. It identifies the
// ciphertext without revealing its contents.
type Handle string

// Binding scopes a ciphertext or a decryption request to the submitting
// identity and the record context it belongs to.
type Binding struct {
	Owner   string
	Context string
}

var (
	ErrUnknownCiphertext = errors.New("unrecognized ciphertext")
	ErrUnknownHandle     = errors.New("unknown ciphertext handle")
	ErrNotDecryptable    = errors.New("handle not granted for public decryption")
	ErrBadWord           = errors.New("payload is not a 32-bit scalar word")
)

// Coprocessor is the capability surface of the external encryption provider.
// Implementations decide whether proofs are authentic; callers only see
// validated handles and pass/fail verdicts.
type Coprocessor interface {
	// VerifyCiphertext checks that proof attests ciphertext is well formed
	// and bound to binding, returning the validated handle.
	VerifyCiphertext(ciphertext, proof []byte, binding Binding) (Handle, error)

	// AllowPublicDecrypt grants third-party decryption for a handle. The
	// grant is one-way and idempotent; it is never revoked.
	AllowPublicDecrypt(h Handle) error

	// CheckAttestation checks that proof attests payload is the authentic
	// opening of exactly the given handle set.
	CheckAttestation(handles []Handle, payload, proof []byte) error

	// PublicDecrypt drives the decryption-verification round trip for a set
	// of granted handles, returning cleartext values keyed by handle plus
	// the attestation covering them. No state changes on failure.
	PublicDecrypt(ctx context.Context, handles []Handle, binding Binding) (map[Handle]uint32, []byte, error)
}

// WordSize is the encoded width of a scalar result: one 32-byte big-endian
// word, the upper 28 bytes zero.
const WordSize = 32

func EncodeWord(v uint32) []byte {
	b := make([]byte, WordSize)
	binary.BigEndian.PutUint32(b[WordSize-4:], v)
	return b
}

func DecodeWord(b []byte) (uint32, error) {
	if len(b) != WordSize {
		return 0, ErrBadWord
	}
	for _, c := range b[:WordSize-4] {
		if c != 0 {
			return 0, ErrBadWord
		}
	}
	return binary.BigEndian.Uint32(b[WordSize-4:]), nil
}

// OpeningPayload encodes a cleartext set as concatenated words in handle
// order. Attestations over decryption results cover exactly these bytes.
func OpeningPayload(handles []Handle, values map[Handle]uint32) ([]byte, error) {
	out := make([]byte, 0, len(handles)*WordSize)
	for _, h := range handles {
		v, ok := values[h]
		if !ok {
			return nil, ErrUnknownHandle
		}
		out = append(out, EncodeWord(v)...)
	}
	return out, nil
}
