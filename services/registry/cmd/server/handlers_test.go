package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veilcase/veilcase/pkg/fhe"
	"github.com/veilcase/veilcase/pkg/gate"
	"github.com/veilcase/veilcase/pkg/record"
	"github.com/veilcase/veilcase/pkg/registry"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cop, err := fhe.NewLocalCoprocessor()
	if err != nil {
		t.Fatalf("coprocessor: %v", err)
	}
	st := record.NewMemStore()
	log := record.NewEventLog()
	return &app{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		reg:    registry.New(st, gate.New(cop), log),
		events: log,
		cop:    cop,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %s: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response %s: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

type encryptResp struct {
	Ciphertext     []byte `json:"ciphertext"`
	AdmissionProof []byte `json:"admission_proof"`
}

func devEncrypt(t *testing.T, r http.Handler, identifier, owner string, value uint32) encryptResp {
	t.Helper()
	var resp struct {
		encryptResp
		RequestID string `json:"request_id"`
	}
	rec := doJSON(t, r, "POST", "/registry/dev/encrypt", map[string]any{
		"identifier": identifier, "owner": owner, "value": value,
	}, &resp)
	if rec.Code != 200 {
		t.Fatalf("dev encrypt: %d %s", rec.Code, rec.Body.String())
	}
	return resp.encryptResp
}

func createRecord(t *testing.T, r http.Handler, identifier, owner string, enc encryptResp) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, r, "POST", "/registry/records", map[string]any{
		"identifier":      identifier,
		"owner":           owner,
		"ciphertext":      enc.Ciphertext,
		"admission_proof": enc.AdmissionProof,
	}, nil)
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	r := newRouter(newTestApp(t))

	enc := devEncrypt(t, r, "case-A", "act_alice", 42)
	if rec := createRecord(t, r, "case-A", "act_alice", enc); rec.Code != 201 {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	var details struct {
		Details struct {
			Owner    string `json:"owner"`
			Result   uint32 `json:"result"`
			Resolved bool   `json:"resolved"`
		} `json:"details"`
	}
	if rec := doJSON(t, r, "GET", "/registry/records/case-A", nil, &details); rec.Code != 200 {
		t.Fatalf("details: %d", rec.Code)
	}
	if details.Details.Resolved || details.Details.Result != 0 || details.Details.Owner != "act_alice" {
		t.Fatalf("unexpected fresh details %+v", details.Details)
	}

	var handleResp struct {
		Handle string `json:"ciphertext_handle"`
	}
	if rec := doJSON(t, r, "GET", "/registry/records/case-A/ciphertext", nil, &handleResp); rec.Code != 200 {
		t.Fatalf("ciphertext: %d", rec.Code)
	}

	var attestResp struct {
		EncodedResult []byte `json:"encoded_result"`
		ResultProof   []byte `json:"result_proof"`
	}
	rec := doJSON(t, r, "POST", "/registry/dev/attest-result", map[string]any{
		"ciphertext_handle": handleResp.Handle, "value": 42,
	}, &attestResp)
	if rec.Code != 200 {
		t.Fatalf("attest: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, "POST", "/registry/records/case-A/resolve", map[string]any{
		"encoded_result": attestResp.EncodedResult,
		"result_proof":   attestResp.ResultProof,
	}, nil)
	if rec.Code != 200 {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}

	if rec := doJSON(t, r, "GET", "/registry/records/case-A", nil, &details); rec.Code != 200 {
		t.Fatalf("details: %d", rec.Code)
	}
	if !details.Details.Resolved || details.Details.Result != 42 {
		t.Fatalf("expected resolved 42, got %+v", details.Details)
	}

	var events struct {
		Events []record.Event `json:"events"`
	}
	if rec := doJSON(t, r, "GET", "/registry/records/case-A/events", nil, &events); rec.Code != 200 {
		t.Fatalf("events: %d", rec.Code)
	}
	if len(events.Events) != 2 {
		t.Fatalf("expected created+resolved events, got %+v", events.Events)
	}
}

func TestCreateDuplicateOverHTTP(t *testing.T) {
	r := newRouter(newTestApp(t))
	enc := devEncrypt(t, r, "case-A", "act_alice", 1)
	if rec := createRecord(t, r, "case-A", "act_alice", enc); rec.Code != 201 {
		t.Fatalf("create: %d", rec.Code)
	}
	enc2 := devEncrypt(t, r, "case-A", "act_alice", 2)
	rec := createRecord(t, r, "case-A", "act_alice", enc2)
	if rec.Code != 409 || errorCode(t, rec) != "DUPLICATE_IDENTIFIER" {
		t.Fatalf("expected 409 DUPLICATE_IDENTIFIER, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestResolveRejectionsOverHTTP(t *testing.T) {
	r := newRouter(newTestApp(t))
	enc := devEncrypt(t, r, "case-A", "act_alice", 42)
	if rec := createRecord(t, r, "case-A", "act_alice", enc); rec.Code != 201 {
		t.Fatalf("create: %d", rec.Code)
	}
	var handleResp struct {
		Handle string `json:"ciphertext_handle"`
	}
	doJSON(t, r, "GET", "/registry/records/case-A/ciphertext", nil, &handleResp)

	// Proof attests 43, payload encodes 42.
	var attestResp struct {
		ResultProof []byte `json:"result_proof"`
	}
	doJSON(t, r, "POST", "/registry/dev/attest-result", map[string]any{
		"ciphertext_handle": handleResp.Handle, "value": 43,
	}, &attestResp)

	rec := doJSON(t, r, "POST", "/registry/records/case-A/resolve", map[string]any{
		"encoded_result": fhe.EncodeWord(42),
		"result_proof":   attestResp.ResultProof,
	}, nil)
	if rec.Code != 422 || errorCode(t, rec) != "PROOF_REJECTED" {
		t.Fatalf("expected 422 PROOF_REJECTED, got %d %s", rec.Code, rec.Body.String())
	}
	var rejResp struct {
		Error struct {
			Proof string `json:"proof"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rejResp); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rejResp.Error.Proof != "result" {
		t.Fatalf("expected rejection to name the result proof, got %q", rejResp.Error.Proof)
	}

	rec = doJSON(t, r, "POST", "/registry/records/case-A/resolve", map[string]any{
		"encoded_result": []byte{1, 2, 3},
		"result_proof":   attestResp.ResultProof,
	}, nil)
	if rec.Code != 400 || errorCode(t, rec) != "MALFORMED_INPUT" {
		t.Fatalf("expected 400 MALFORMED_INPUT, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, "POST", "/registry/records/missing/resolve", map[string]any{
		"encoded_result": fhe.EncodeWord(1),
		"result_proof":   []byte("proof"),
	}, nil)
	if rec.Code != 404 || errorCode(t, rec) != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDecryptOverHTTP(t *testing.T) {
	r := newRouter(newTestApp(t))
	for i, id := range []string{"case-A", "case-B"} {
		enc := devEncrypt(t, r, id, "act_alice", uint32(5+i))
		if rec := createRecord(t, r, id, "act_alice", enc); rec.Code != 201 {
			t.Fatalf("create %s: %d", id, rec.Code)
		}
	}

	var resp struct {
		Values          map[string]uint32 `json:"values"`
		AlreadyResolved bool              `json:"already_resolved"`
	}
	rec := doJSON(t, r, "POST", "/registry/records:decrypt", map[string]any{
		"request_context": "observer-1",
		"identifiers":     []string{"case-A", "case-B"},
	}, &resp)
	if rec.Code != 200 {
		t.Fatalf("decrypt: %d %s", rec.Code, rec.Body.String())
	}
	if resp.AlreadyResolved || resp.Values["case-A"] != 5 || resp.Values["case-B"] != 6 {
		t.Fatalf("unexpected outcome %+v", resp)
	}

	// Second request is the benign already-resolved outcome.
	rec = doJSON(t, r, "POST", "/registry/records:decrypt", map[string]any{
		"request_context": "observer-1",
		"identifiers":     []string{"case-A", "case-B"},
	}, &resp)
	if rec.Code != 200 || !resp.AlreadyResolved || resp.Values["case-A"] != 5 {
		t.Fatalf("expected benign already-resolved replay, got %d %+v", rec.Code, resp)
	}
}

func TestListIdentifiersOverHTTP(t *testing.T) {
	r := newRouter(newTestApp(t))
	var list struct {
		Identifiers []string `json:"identifiers"`
	}
	if rec := doJSON(t, r, "GET", "/registry/records", nil, &list); rec.Code != 200 {
		t.Fatalf("list: %d", rec.Code)
	}
	if len(list.Identifiers) != 0 {
		t.Fatalf("expected empty catalog, got %v", list.Identifiers)
	}

	for _, id := range []string{"case-C", "case-A"} {
		enc := devEncrypt(t, r, id, "act_alice", 1)
		if rec := createRecord(t, r, id, "act_alice", enc); rec.Code != 201 {
			t.Fatalf("create %s: %d", id, rec.Code)
		}
	}
	if rec := doJSON(t, r, "GET", "/registry/records", nil, &list); rec.Code != 200 {
		t.Fatalf("list: %d", rec.Code)
	}
	if len(list.Identifiers) != 2 || list.Identifiers[0] != "case-C" || list.Identifiers[1] != "case-A" {
		t.Fatalf("expected creation order, got %v", list.Identifiers)
	}
}
