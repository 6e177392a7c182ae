// Package registry is the caller-facing surface of the encrypted case
// registry. It wires gate verdicts into store transitions and emits one
// event per successful lifecycle step. All trust decisions live in the
// gate; all state lives in the store.
package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/veilcase/veilcase/pkg/fhe"
	"github.com/veilcase/veilcase/pkg/gate"
	"github.com/veilcase/veilcase/pkg/record"
)

type Registry struct {
	store  record.Store
	gate   *gate.Gate
	events record.EventSink
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Registry)

// WithClock overrides the creation/event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger for non-fatal conditions such as a failed
// event append. Silent by default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func New(store record.Store, g *gate.Gate, events record.EventSink, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		gate:   g,
		events: events,
		now:    time.Now,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if r.events == nil {
		r.events = noopSink{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type noopSink struct{}

func (noopSink) Emit(context.Context, record.Event) error { return nil }

// emit appends an event. A sink failure never fails the transition that
// produced the event, but it is logged so a lost audit row is visible.
func (r *Registry) emit(ctx context.Context, ev record.Event) {
	if err := r.events.Emit(ctx, ev); err != nil {
		r.log.Warn("event emit failed", "type", ev.Type, "identifier", ev.Identifier, "err", err)
	}
}

// Create admits an encrypted value under identifier. The admission proof
// must bind the ciphertext to (owner, identifier); the store's uniqueness
// check at the write is the final arbiter for duplicates.
func (r *Registry) Create(ctx context.Context, identifier, owner string, ciphertext, admissionProof []byte) (record.Record, error) {
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(owner) == "" {
		return record.Record{}, record.ErrMalformedInput
	}
	handle, err := r.gate.VerifyAdmission(ciphertext, admissionProof, fhe.Binding{Owner: owner, Context: identifier})
	if err != nil {
		return record.Record{}, err
	}
	rec := record.Record{
		Identifier: identifier,
		Owner:      owner,
		Ciphertext: handle,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.CreateRecord(ctx, rec); err != nil {
		return record.Record{}, err
	}
	r.emit(ctx, record.Event{
		Type:       record.EventCreated,
		Identifier: rec.Identifier,
		Owner:      rec.Owner,
		At:         rec.CreatedAt,
	})
	return rec, nil
}

// Resolve commits a computed result. The proof must cover exactly the
// record's stored ciphertext handle and the encoded value; a rejected proof
// leaves the record untouched.
func (r *Registry) Resolve(ctx context.Context, identifier string, encodedResult, resultProof []byte) (record.Record, error) {
	rec, err := r.store.GetRecord(ctx, identifier)
	if err != nil {
		return record.Record{}, err
	}
	if rec.Resolved {
		return record.Record{}, record.ErrAlreadyResolved
	}
	value, err := r.gate.VerifyResult(rec.Ciphertext, encodedResult, resultProof)
	if err != nil {
		return record.Record{}, err
	}
	updated, err := r.store.ResolveRecord(ctx, identifier, value)
	if err != nil {
		return record.Record{}, err
	}
	r.emit(ctx, record.Event{
		Type:       record.EventResolved,
		Identifier: updated.Identifier,
		Result:     updated.Result,
		At:         r.now().UTC(),
	})
	return updated, nil
}

// DecryptionOutcome is the result of a public decryption request, keyed by
// identifier. AlreadyResolved reports the benign case where every requested
// record had been resolved before the request; the stored values are still
// returned.
type DecryptionOutcome struct {
	Values          map[string]uint32 `json:"values"`
	AlreadyResolved bool              `json:"already_resolved"`
}

// RequestDecryption opens still-encrypted fields through the verified
// decryption round trip. Records resolved before or during the request
// contribute their stored cleartext; a successful round trip resolves the
// open ones. Post-resolution decryption results never overwrite a stored
// value.
func (r *Registry) RequestDecryption(ctx context.Context, requestContext string, identifiers ...string) (DecryptionOutcome, error) {
	if len(identifiers) == 0 {
		return DecryptionOutcome{}, record.ErrMalformedInput
	}

	values := map[string]uint32{}
	var open []fhe.Handle
	// Distinct records may share a ciphertext handle; every identifier
	// behind a handle is committed when that handle opens.
	byHandle := map[fhe.Handle][]string{}
	seen := map[string]bool{}
	for _, id := range identifiers {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, err := r.store.GetRecord(ctx, id)
		if err != nil {
			return DecryptionOutcome{}, err
		}
		if rec.Resolved {
			values[id] = rec.Result
			continue
		}
		if _, dup := byHandle[rec.Ciphertext]; !dup {
			open = append(open, rec.Ciphertext)
		}
		byHandle[rec.Ciphertext] = append(byHandle[rec.Ciphertext], id)
	}
	if len(open) == 0 {
		return DecryptionOutcome{Values: values, AlreadyResolved: true}, nil
	}

	committed := map[string]uint32{}
	commit := func(h fhe.Handle, value uint32) (uint32, bool, error) {
		stored := value
		already := true
		for _, id := range byHandle[h] {
			updated, err := r.store.ResolveRecord(ctx, id, value)
			if errors.Is(err, record.ErrAlreadyResolved) {
				cur, gerr := r.store.GetRecord(ctx, id)
				if gerr != nil {
					return 0, false, gerr
				}
				committed[id] = cur.Result
				stored = cur.Result
				continue
			}
			if err != nil {
				return 0, false, err
			}
			already = false
			committed[id] = updated.Result
			r.emit(ctx, record.Event{
				Type:       record.EventResolved,
				Identifier: updated.Identifier,
				Result:     updated.Result,
				At:         r.now().UTC(),
			})
		}
		return stored, already, nil
	}

	if _, err := r.gate.VerifyDecryption(ctx, open, fhe.Binding{Context: requestContext}, commit); err != nil {
		return DecryptionOutcome{}, err
	}
	for id, v := range committed {
		values[id] = v
	}
	return DecryptionOutcome{Values: values}, nil
}

// Details is the cleartext view of a record.
type Details struct {
	Owner     string    `json:"owner"`
	Result    uint32    `json:"result"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Registry) GetDetails(ctx context.Context, identifier string) (Details, error) {
	rec, err := r.store.GetRecord(ctx, identifier)
	if err != nil {
		return Details{}, err
	}
	return Details{
		Owner:     rec.Owner,
		Result:    rec.Result,
		Resolved:  rec.Resolved,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (r *Registry) GetEncryptedField(ctx context.Context, identifier string) (fhe.Handle, error) {
	rec, err := r.store.GetRecord(ctx, identifier)
	if err != nil {
		return "", err
	}
	return rec.Ciphertext, nil
}

func (r *Registry) ListIdentifiers(ctx context.Context) ([]string, error) {
	return r.store.ListIdentifiers(ctx)
}
