// Package gate is the only component allowed to authorize state transitions
// that touch cryptographic material. It consumes externally supplied proofs
// through the injected coprocessor and turns them into typed verdicts; it
// never mutates records itself.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/veilcase/veilcase/pkg/fhe"
)

// Proof names which attestation a rejection refers to.
type Proof string

const (
	ProofAdmission  Proof = "admission"
	ProofResult     Proof = "result"
	ProofDecryption Proof = "decryption"
)

var (
	ErrProofRejected    = errors.New("PROOF_REJECTED")
	ErrMalformedPayload = errors.New("malformed result payload")
)

// RejectionError reports a failed verification. It wraps ErrProofRejected
// and the coprocessor's underlying verdict.
type RejectionError struct {
	Proof Proof
	Cause error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s proof rejected: %v", e.Proof, e.Cause)
}

func (e *RejectionError) Unwrap() []error { return []error{ErrProofRejected, e.Cause} }

func reject(p Proof, cause error) error { return &RejectionError{Proof: p, Cause: cause} }

type Gate struct {
	cop fhe.Coprocessor
}

func New(cop fhe.Coprocessor) *Gate { return &Gate{cop: cop} }

// VerifyAdmission checks an admission proof against the claimed ciphertext
// and binding. On success the ciphertext is validated into a handle and, in
// the same step, granted one-way public decryptability.
func (g *Gate) VerifyAdmission(ciphertext, proof []byte, binding fhe.Binding) (fhe.Handle, error) {
	h, err := g.cop.VerifyCiphertext(ciphertext, proof, binding)
	if err != nil {
		return "", reject(ProofAdmission, err)
	}
	if err := g.cop.AllowPublicDecrypt(h); err != nil {
		return "", reject(ProofAdmission, err)
	}
	return h, nil
}

// VerifyResult checks that resultProof attests payload is the authentic
// opening of exactly handle. Substituting either the handle or the payload
// fails the attestation check.
func (g *Gate) VerifyResult(handle fhe.Handle, payload, proof []byte) (uint32, error) {
	value, err := fhe.DecodeWord(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := g.cop.CheckAttestation([]fhe.Handle{handle}, payload, proof); err != nil {
		return 0, reject(ProofResult, err)
	}
	return value, nil
}

// CommitFunc lets the caller commit one verified cleartext value. When the
// target was already resolved it reports already=true and the stored value,
// which wins over the freshly proven one.
type CommitFunc func(handle fhe.Handle, value uint32) (stored uint32, already bool, err error)

// VerifyDecryption drives the external decryption round trip for a handle
// set: obtain cleartexts plus proof, check the attestation over exactly
// (handles, encoded payload), then commit each value through the callback.
// Nothing is committed if the proof does not validate.
func (g *Gate) VerifyDecryption(ctx context.Context, handles []fhe.Handle, binding fhe.Binding, commit CommitFunc) (map[fhe.Handle]uint32, error) {
	if len(handles) == 0 {
		return map[fhe.Handle]uint32{}, nil
	}
	values, proof, err := g.cop.PublicDecrypt(ctx, handles, binding)
	if err != nil {
		return nil, reject(ProofDecryption, err)
	}
	payload, err := fhe.OpeningPayload(handles, values)
	if err != nil {
		return nil, reject(ProofDecryption, err)
	}
	if err := g.cop.CheckAttestation(handles, payload, proof); err != nil {
		return nil, reject(ProofDecryption, err)
	}

	out := make(map[fhe.Handle]uint32, len(handles))
	for _, h := range handles {
		v := values[h]
		stored, already, err := commit(h, v)
		if err != nil {
			return nil, err
		}
		if already {
			v = stored
		}
		out[h] = v
	}
	return out, nil
}
