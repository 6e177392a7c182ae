package fhe

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/veilcase/veilcase/pkg/attest"
)

// LocalCoprocessor is an in-process stand-in for the external encryption
// provider. It mints real ed25519 attestation envelopes over a private
// plaintext ledger, so the verification path exercised by the gate is the
// same one a remote coprocessor would see. Used by dev servers and tests.
type LocalCoprocessor struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	now  func() time.Time

	mu          sync.Mutex
	plaintexts  map[Handle]uint32
	decryptable map[Handle]bool
}

func NewLocalCoprocessor() (*LocalCoprocessor, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &LocalCoprocessor{
		priv:        priv,
		pub:         pub,
		now:         time.Now,
		plaintexts:  map[Handle]uint32{},
		decryptable: map[Handle]bool{},
	}, nil
}

// PublicKey returns the attestation key callers may use for offline checks.
func (c *LocalCoprocessor) PublicKey() ed25519.PublicKey { return c.pub }

// HandleFor derives the opaque handle for a ciphertext.
func HandleFor(ciphertext []byte) Handle {
	sum := sha256.Sum256(ciphertext)
	return Handle("ct_" + hex.EncodeToString(sum[:])[:40])
}

// Encrypt produces an opaque ciphertext for value bound to binding, plus the
// admission proof the registry requires. The plaintext stays in the
// coprocessor's private ledger keyed by handle.
func (c *LocalCoprocessor) Encrypt(value uint32, binding Binding) (ciphertext, proof []byte, err error) {
	ciphertext = make([]byte, 48)
	if _, err := rand.Read(ciphertext); err != nil {
		return nil, nil, err
	}
	claim := attest.AdmissionClaim{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Owner:      binding.Owner,
		Context:    binding.Context,
	}
	proof, err = attest.Sign(c.priv, attest.KindAdmission, claim, c.now())
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.plaintexts[HandleFor(ciphertext)] = value
	c.mu.Unlock()
	return ciphertext, proof, nil
}

func (c *LocalCoprocessor) VerifyCiphertext(ciphertext, proof []byte, binding Binding) (Handle, error) {
	claim := attest.AdmissionClaim{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Owner:      binding.Owner,
		Context:    binding.Context,
	}
	if _, err := attest.Verify(c.pub, attest.KindAdmission, claim, proof); err != nil {
		return "", err
	}
	h := HandleFor(ciphertext)
	c.mu.Lock()
	_, known := c.plaintexts[h]
	c.mu.Unlock()
	if !known {
		return "", ErrUnknownCiphertext
	}
	return h, nil
}

func (c *LocalCoprocessor) AllowPublicDecrypt(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, known := c.plaintexts[h]; !known {
		return ErrUnknownHandle
	}
	c.decryptable[h] = true
	return nil
}

// AttestResult mints a result proof for a (handle, value) pair, the way the
// external oracle would after computing over the ciphertext.
func (c *LocalCoprocessor) AttestResult(h Handle, value uint32) ([]byte, error) {
	claim := attest.OpeningClaim{
		Handles: []string{string(h)},
		Payload: base64.StdEncoding.EncodeToString(EncodeWord(value)),
	}
	return attest.Sign(c.priv, attest.KindOpening, claim, c.now())
}

func (c *LocalCoprocessor) CheckAttestation(handles []Handle, payload, proof []byte) error {
	claim := attest.OpeningClaim{
		Handles: handleStrings(handles),
		Payload: base64.StdEncoding.EncodeToString(payload),
	}
	_, err := attest.Verify(c.pub, attest.KindOpening, claim, proof)
	return err
}

func (c *LocalCoprocessor) PublicDecrypt(ctx context.Context, handles []Handle, binding Binding) (map[Handle]uint32, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	values := make(map[Handle]uint32, len(handles))
	c.mu.Lock()
	for _, h := range handles {
		v, known := c.plaintexts[h]
		if !known {
			c.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
		}
		if !c.decryptable[h] {
			c.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", ErrNotDecryptable, h)
		}
		values[h] = v
	}
	c.mu.Unlock()

	payload, err := OpeningPayload(handles, values)
	if err != nil {
		return nil, nil, err
	}
	claim := attest.OpeningClaim{
		Handles: handleStrings(handles),
		Payload: base64.StdEncoding.EncodeToString(payload),
	}
	proof, err := attest.Sign(c.priv, attest.KindOpening, claim, c.now())
	if err != nil {
		return nil, nil, err
	}
	return values, proof, nil
}

func handleStrings(handles []Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = string(h)
	}
	return out
}
