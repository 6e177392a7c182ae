// Package record holds the authoritative state for encrypted case records:
// the record model, the store contract, and the append-only event stream.
// Stores enforce the structural invariants (uniqueness, required fields,
// exactly-once resolution); cryptographic verification is the gate's job and
// happens before any store write.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/veilcase/veilcase/pkg/fhe"
)

var (
	ErrDuplicateIdentifier = errors.New("DUPLICATE_IDENTIFIER")
	ErrNotFound            = errors.New("NOT_FOUND")
	ErrAlreadyResolved     = errors.New("ALREADY_RESOLVED")
	ErrMalformedInput      = errors.New("MALFORMED_INPUT")
)

// Record is one encrypted case. Identifier, owner, ciphertext handle and
// createdAt are immutable after creation; result and resolved flip together
// exactly once and never revert.
type Record struct {
	Identifier string     `json:"identifier"`
	Owner      string     `json:"owner"`
	Ciphertext fhe.Handle `json:"ciphertext_handle"`
	Result     uint32     `json:"result"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store is the single source of truth for record existence, ownership and
// resolution status. Implementations return copies, never live references,
// and decide uniqueness at the write itself.
type Store interface {
	// CreateRecord stores a new, unresolved record. ErrDuplicateIdentifier
	// if the identifier already exists; ErrMalformedInput if a required
	// field is missing.
	CreateRecord(ctx context.Context, rec Record) error

	// ResolveRecord commits the cleartext result exactly once, atomically
	// flipping resolved. ErrNotFound / ErrAlreadyResolved otherwise. The
	// returned record is the post-transition snapshot.
	ResolveRecord(ctx context.Context, identifier string, result uint32) (Record, error)

	// GetRecord returns an immutable snapshot. ErrNotFound if absent.
	GetRecord(ctx context.Context, identifier string) (Record, error)

	// ListIdentifiers returns the full catalog in creation order.
	ListIdentifiers(ctx context.Context) ([]string, error)
}

// Validate checks the structural requirements for a new record. Stores call
// it before the write; it performs no cryptographic checks.
func Validate(rec Record) error {
	if rec.Identifier == "" || rec.Owner == "" || rec.Ciphertext == "" {
		return ErrMalformedInput
	}
	if rec.Resolved {
		return ErrMalformedInput
	}
	return nil
}
