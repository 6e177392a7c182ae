package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"

	"github.com/veilcase/veilcase/pkg/db"
	"github.com/veilcase/veilcase/pkg/fhe"
	"github.com/veilcase/veilcase/pkg/gate"
	"github.com/veilcase/veilcase/pkg/httpx"
	"github.com/veilcase/veilcase/pkg/record"
	"github.com/veilcase/veilcase/pkg/registry"
	"github.com/veilcase/veilcase/services/registry/internal/store"
)

type app struct {
	log    *slog.Logger
	reg    *registry.Registry
	events record.EventStream
	cop    *fhe.LocalCoprocessor
}

func main() {
	logger := newLogger()
	ctx := context.Background()

	cop, err := fhe.NewLocalCoprocessor()
	if err != nil {
		logger.Error("coprocessor init failed", "err", err)
		os.Exit(1)
	}

	var (
		st     record.Store
		sink   record.EventSink
		stream record.EventStream
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			logger.Error("database connect failed", "err", err)
			os.Exit(1)
		}
		pgs := store.New(pool)
		if err := pgs.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		st, sink, stream = pgs, pgs, pgs
	} else {
		logger.Warn("DATABASE_URL not set, records are in-memory only")
		ms := record.NewMemStore()
		el := record.NewEventLog()
		st, sink, stream = ms, el, el
	}

	a := &app{
		log:    logger,
		reg:    registry.New(st, gate.New(cop), sink, registry.WithLogger(logger)),
		events: stream,
		cop:    cop,
	}

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}
	logger.Info("registry listening", "port", port)
	if err := http.ListenAndServe(":"+port, newRouter(a)); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}

func newRouter(a *app) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/registry", func(api chi.Router) {

		api.Post("/records", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Identifier     string `json:"identifier"`
				Owner          string `json:"owner"`
				Ciphertext     []byte `json:"ciphertext"`
				AdmissionProof []byte `json:"admission_proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			rec, err := a.reg.Create(r.Context(), req.Identifier, req.Owner, req.Ciphertext, req.AdmissionProof)
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			a.log.Info("record created", "identifier", rec.Identifier, "owner", rec.Owner)
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Post("/records/{identifier}/resolve", func(w http.ResponseWriter, r *http.Request) {
			identifier := chi.URLParam(r, "identifier")
			var req struct {
				EncodedResult []byte `json:"encoded_result"`
				ResultProof   []byte `json:"result_proof"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			rec, err := a.reg.Resolve(r.Context(), identifier, req.EncodedResult, req.ResultProof)
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			a.log.Info("record resolved", "identifier", rec.Identifier, "result", rec.Result)
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "record": rec})
		})

		api.Post("/records:decrypt", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				RequestContext string   `json:"request_context"`
				Identifiers    []string `json:"identifiers"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			outcome, err := a.reg.RequestDecryption(r.Context(), req.RequestContext, req.Identifiers...)
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":       httpx.NewRequestID(),
				"values":           outcome.Values,
				"already_resolved": outcome.AlreadyResolved,
			})
		})

		api.Get("/records", func(w http.ResponseWriter, r *http.Request) {
			ids, err := a.reg.ListIdentifiers(r.Context())
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			if ids == nil {
				ids = []string{}
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "identifiers": ids})
		})

		api.Get("/records/{identifier}", func(w http.ResponseWriter, r *http.Request) {
			details, err := a.reg.GetDetails(r.Context(), chi.URLParam(r, "identifier"))
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "details": details})
		})

		api.Get("/records/{identifier}/ciphertext", func(w http.ResponseWriter, r *http.Request) {
			handle, err := a.reg.GetEncryptedField(r.Context(), chi.URLParam(r, "identifier"))
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "ciphertext_handle": handle})
		})

		api.Get("/records/{identifier}/events", func(w http.ResponseWriter, r *http.Request) {
			events, err := a.events.Events(r.Context(), chi.URLParam(r, "identifier"))
			if err != nil {
				a.writeDomainError(w, err)
				return
			}
			if events == nil {
				events = []record.Event{}
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": events})
		})

		// DEV helpers: mint ciphertexts and result proofs against the local
		// coprocessor for smoke flows.
		api.Post("/dev/encrypt", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Identifier string `json:"identifier"`
				Owner      string `json:"owner"`
				Value      uint32 `json:"value"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			ciphertext, proof, err := a.cop.Encrypt(req.Value, fhe.Binding{Owner: req.Owner, Context: req.Identifier})
			if err != nil {
				httpx.WriteError(w, 500, "ENCRYPT_FAILED", err.Error())
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":      httpx.NewRequestID(),
				"ciphertext":      ciphertext,
				"admission_proof": proof,
			})
		})

		api.Post("/dev/attest-result", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Handle string `json:"ciphertext_handle"`
				Value  uint32 `json:"value"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error())
				return
			}
			proof, err := a.cop.AttestResult(fhe.Handle(req.Handle), req.Value)
			if err != nil {
				httpx.WriteError(w, 500, "ATTEST_FAILED", err.Error())
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":     httpx.NewRequestID(),
				"encoded_result": fhe.EncodeWord(req.Value),
				"result_proof":   proof,
			})
		})
	})

	return r
}

func (a *app) writeDomainError(w http.ResponseWriter, err error) {
	var rej *gate.RejectionError
	switch {
	case errors.Is(err, record.ErrDuplicateIdentifier):
		httpx.WriteError(w, 409, "DUPLICATE_IDENTIFIER", err.Error())
	case errors.Is(err, record.ErrAlreadyResolved):
		httpx.WriteError(w, 409, "ALREADY_RESOLVED", err.Error())
	case errors.Is(err, record.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, record.ErrMalformedInput), errors.Is(err, gate.ErrMalformedPayload):
		httpx.WriteError(w, 400, "MALFORMED_INPUT", err.Error())
	case errors.As(err, &rej):
		httpx.WriteProofError(w, 422, "PROOF_REJECTED", err.Error(), string(rej.Proof))
	default:
		a.log.Error("internal error", "err", err)
		httpx.WriteError(w, 500, "INTERNAL", err.Error())
	}
}
