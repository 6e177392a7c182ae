package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

// ErrorBody is the error envelope every registry endpoint returns. Code
// mirrors the domain sentinels (DUPLICATE_IDENTIFIER, NOT_FOUND,
// ALREADY_RESOLVED, PROOF_REJECTED, MALFORMED_INPUT); Proof names which
// attestation the gate turned away, when one did.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Proof   string `json:"proof,omitempty"`
}

type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		RequestID: NewRequestID(),
		Error:     ErrorBody{Code: code, Message: message},
	})
}

// WriteProofError reports a gate rejection, naming the refused proof.
func WriteProofError(w http.ResponseWriter, status int, code, message, proof string) {
	WriteJSON(w, status, ErrorResponse{
		RequestID: NewRequestID(),
		Error:     ErrorBody{Code: code, Message: message, Proof: proof},
	})
}
