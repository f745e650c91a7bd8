// Package admin exposes the operator HTTP API: credential management, engine
// enable/disable, status, and manual reconciliation commands.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cognizanttrust/chain-reconciler/internal/engine"
	"github.com/cognizanttrust/chain-reconciler/internal/recorder"
	"github.com/cognizanttrust/chain-reconciler/internal/store"
	"github.com/cognizanttrust/chain-reconciler/internal/wallet"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// EngineControl is the slice of the engine the admin API drives.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Status() engine.Status
	DetailedStatus(ctx context.Context) (engine.DetailedStatus, error)
	RunPendingSweep(ctx context.Context) error
	VerifyRecord(ctx context.Context, id uuid.UUID) error
}

// RecorderControl arms and disarms the signer.
type RecorderControl interface {
	Initialize(ctx context.Context, passphrase string) error
	Initialized() bool
	SignerAddress() (string, bool)
	Shutdown()
	Balance(ctx context.Context) (*big.Int, error)
	ChainHead(ctx context.Context) (int64, error)
}

// CredentialStore manages the encrypted signing credential on disk.
type CredentialStore interface {
	Store(privateKey, address, passphrase string) error
	Exists() bool
	Delete() error
}

// Server provides the HTTP admin API for operational management.
type Server struct {
	eng      EngineControl
	rec      RecorderControl
	creds    CredentialStore
	session  sessionLease
	settings store.SettingsStore
	baseCtx  context.Context
	logger   *slog.Logger
}

// sessionLease is the slice of the session store the admin API uses.
type sessionLease interface {
	Set(ctx context.Context, secret string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// NewServer creates the admin API server. baseCtx bounds the lifetime of
// engine runs started through this API.
func NewServer(
	baseCtx context.Context,
	eng EngineControl,
	rec RecorderControl,
	creds CredentialStore,
	session sessionLease,
	settings store.SettingsStore,
	logger *slog.Logger,
) *Server {
	return &Server{
		eng:      eng,
		rec:      rec,
		creds:    creds,
		session:  session,
		settings: settings,
		baseCtx:  baseCtx,
		logger:   logger.With("component", "admin"),
	}
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/engine/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/engine/status/detail", s.handleStatusDetail)
	mux.HandleFunc("POST /api/v1/engine/enable", s.handleEnable)
	mux.HandleFunc("POST /api/v1/engine/disable", s.handleDisable)
	mux.HandleFunc("POST /api/v1/engine/sweep", s.handleSweep)
	mux.HandleFunc("POST /api/v1/credentials", s.handleStoreCredentials)
	mux.HandleFunc("DELETE /api/v1/credentials", s.handleDeleteCredentials)
	mux.HandleFunc("POST /api/v1/records/{id}/verify", s.handleVerifyRecord)
	mux.HandleFunc("GET /api/v1/wallet/balance", s.handleBalance)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v. Returns false
// (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handleStatusDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.eng.DetailedStatus(r.Context())
	if err != nil {
		s.logger.Error("detailed status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type enableRequest struct {
	Passphrase string `json:"passphrase"`
}

// handleEnable arms the recorder with the supplied passphrase, leases the
// passphrase in the session store so workers can re-arm after a restart,
// flips automatic mode on, and starts the workers.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "passphrase is required")
		return
	}
	if !s.creds.Exists() {
		writeError(w, http.StatusConflict, "no credentials configured")
		return
	}

	if err := s.rec.Initialize(r.Context(), req.Passphrase); err != nil {
		switch {
		case errors.Is(err, wallet.ErrBadPassphrase), errors.Is(err, recorder.ErrAddressMismatch):
			writeError(w, http.StatusUnauthorized, "passphrase rejected")
		default:
			s.logger.Error("recorder initialization failed", "error", err)
			writeError(w, http.StatusBadGateway, "chain connection failed")
		}
		return
	}

	settings, err := s.settings.Get(r.Context())
	if err != nil {
		s.logger.Error("load settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// The lease is best effort: without it the engine still runs until the
	// process restarts.
	if err := s.session.Set(r.Context(), req.Passphrase, settings.SessionTTL()); err != nil {
		s.logger.Warn("session secret lease failed", "error", err)
	}

	if err := s.settings.SetAutomaticMode(r.Context(), true); err != nil {
		s.logger.Error("enable automatic mode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := s.eng.Start(s.baseCtx); err != nil && !errors.Is(err, engine.ErrAlreadyRunning) {
		s.logger.Error("engine start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	signer, _ := s.rec.SignerAddress()
	s.logger.Info("automatic recording enabled", "signer", signer)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "signer": signer})
}

// handleDisable pauses automatic mode, stops the workers, clears the cached
// secret, and zeroes the in-memory key.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.SetAutomaticMode(r.Context(), false); err != nil {
		s.logger.Error("disable automatic mode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.eng.Stop()
	if err := s.session.Clear(r.Context()); err != nil {
		s.logger.Warn("session clear failed", "error", err)
	}
	s.rec.Shutdown()

	s.logger.Info("automatic recording disabled")
	writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
}

type storeCredentialsRequest struct {
	PrivateKey string `json:"private_key"`
	Address    string `json:"address"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) handleStoreCredentials(w http.ResponseWriter, r *http.Request) {
	var req storeCredentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.PrivateKey == "" || req.Address == "" || req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "private_key, address, and passphrase are required")
		return
	}

	if err := s.creds.Store(req.PrivateKey, req.Address, req.Passphrase); err != nil {
		s.logger.Error("storing credentials failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.settings.SetCredentialsConfigured(r.Context(), true); err != nil {
		s.logger.Error("flag credentials configured failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("signing credentials stored", "address", req.Address)
	writeJSON(w, http.StatusCreated, map[string]string{"address": req.Address})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if s.eng.Running() {
		writeError(w, http.StatusConflict, "disable the engine before deleting credentials")
		return
	}
	if err := s.creds.Delete(); err != nil {
		s.logger.Error("deleting credentials failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.settings.SetCredentialsConfigured(r.Context(), false); err != nil {
		s.logger.Error("flag credentials removed failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.session.Clear(r.Context()); err != nil {
		s.logger.Warn("session clear failed", "error", err)
	}
	s.rec.Shutdown()

	s.logger.Info("signing credentials deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.RunPendingSweep(r.Context()); err != nil {
		if errors.Is(err, recorder.ErrNotInitialized) {
			writeError(w, http.StatusConflict, "recorder not initialized")
			return
		}
		s.logger.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep completed"})
}

func (s *Server) handleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	if err := s.eng.VerifyRecord(r.Context(), id); err != nil {
		if errors.Is(err, recorder.ErrNotInitialized) {
			writeError(w, http.StatusConflict, "recorder not initialized")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.rec.Balance(r.Context())
	if err != nil {
		if errors.Is(err, recorder.ErrNotInitialized) {
			writeError(w, http.StatusConflict, "recorder not initialized")
			return
		}
		s.logger.Error("balance lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "balance lookup failed")
		return
	}
	signer, _ := s.rec.SignerAddress()
	resp := map[string]string{
		"address":     signer,
		"balance_wei": balance.String(),
	}
	// Best-effort: the balance is still useful when the head lookup fails.
	if head, err := s.rec.ChainHead(r.Context()); err == nil {
		resp["block_height"] = strconv.FormatInt(head, 10)
	} else {
		s.logger.Warn("chain head lookup failed", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}
