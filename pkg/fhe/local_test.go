package fhe

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func newCop(t *testing.T) *LocalCoprocessor {
	t.Helper()
	cop, err := NewLocalCoprocessor()
	if err != nil {
		t.Fatalf("coprocessor: %v", err)
	}
	return cop
}

func TestWordRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 42, 0xFFFFFFFF} {
		got, err := DecodeWord(EncodeWord(v))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d, got %d", v, got)
		}
	}
}

func TestDecodeWordRejectsBadInput(t *testing.T) {
	if _, err := DecodeWord([]byte{1, 2, 3}); !errors.Is(err, ErrBadWord) {
		t.Fatalf("expected ErrBadWord for short input, got %v", err)
	}
	overflow := make([]byte, WordSize)
	overflow[0] = 1
	if _, err := DecodeWord(overflow); !errors.Is(err, ErrBadWord) {
		t.Fatalf("expected ErrBadWord for non-scalar word, got %v", err)
	}
}

func TestEncryptAdmitRoundTrip(t *testing.T) {
	cop := newCop(t)
	binding := Binding{Owner: "act_alice", Context: "case-A"}
	ciphertext, proof, err := cop.Encrypt(42, binding)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	h, err := cop.VerifyCiphertext(ciphertext, proof, binding)
	if err != nil {
		t.Fatalf("verify ciphertext: %v", err)
	}
	if h != HandleFor(ciphertext) {
		t.Fatalf("unexpected handle %s", h)
	}
}

func TestVerifyCiphertextRejectsWrongBinding(t *testing.T) {
	cop := newCop(t)
	ciphertext, proof, err := cop.Encrypt(42, Binding{Owner: "act_alice", Context: "case-A"})
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := cop.VerifyCiphertext(ciphertext, proof, Binding{Owner: "act_mallory", Context: "case-A"}); err == nil {
		t.Fatalf("expected rejection for wrong owner")
	}
	if _, err := cop.VerifyCiphertext(ciphertext, proof, Binding{Owner: "act_alice", Context: "case-B"}); err == nil {
		t.Fatalf("expected rejection for wrong context")
	}
}

func TestPublicDecryptRequiresGrant(t *testing.T) {
	cop := newCop(t)
	binding := Binding{Owner: "act_alice", Context: "case-A"}
	ciphertext, proof, err := cop.Encrypt(7, binding)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	h, err := cop.VerifyCiphertext(ciphertext, proof, binding)
	if err != nil {
		t.Fatalf("verify ciphertext: %v", err)
	}

	if _, _, err := cop.PublicDecrypt(context.Background(), []Handle{h}, binding); !errors.Is(err, ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable before grant, got %v", err)
	}
	if err := cop.AllowPublicDecrypt(h); err != nil {
		t.Fatalf("grant: %v", err)
	}
	values, opening, err := cop.PublicDecrypt(context.Background(), []Handle{h}, binding)
	if err != nil {
		t.Fatalf("public decrypt: %v", err)
	}
	if values[h] != 7 {
		t.Fatalf("expected 7, got %d", values[h])
	}

	payload, err := OpeningPayload([]Handle{h}, values)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if err := cop.CheckAttestation([]Handle{h}, payload, opening); err != nil {
		t.Fatalf("attestation should cover returned payload: %v", err)
	}
	tampered := bytes.Clone(payload)
	tampered[len(tampered)-1] ^= 0x01
	if err := cop.CheckAttestation([]Handle{h}, tampered, opening); err == nil {
		t.Fatalf("expected attestation failure for tampered payload")
	}
}

func TestAttestResultBindsHandleAndValue(t *testing.T) {
	cop := newCop(t)
	binding := Binding{Owner: "act_alice", Context: "case-A"}
	ciphertext, admission, err := cop.Encrypt(42, binding)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	h, err := cop.VerifyCiphertext(ciphertext, admission, binding)
	if err != nil {
		t.Fatalf("verify ciphertext: %v", err)
	}

	proof, err := cop.AttestResult(h, 42)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if err := cop.CheckAttestation([]Handle{h}, EncodeWord(42), proof); err != nil {
		t.Fatalf("matching pair should verify: %v", err)
	}
	if err := cop.CheckAttestation([]Handle{h}, EncodeWord(43), proof); err == nil {
		t.Fatalf("substituted value must fail")
	}
	if err := cop.CheckAttestation([]Handle{"ct_other"}, EncodeWord(42), proof); err == nil {
		t.Fatalf("substituted handle must fail")
	}
}

func TestAllowPublicDecryptUnknownHandle(t *testing.T) {
	cop := newCop(t)
	if err := cop.AllowPublicDecrypt("ct_missing"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestPublicDecryptCancelledContext(t *testing.T) {
	cop := newCop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := cop.PublicDecrypt(ctx, nil, Binding{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
