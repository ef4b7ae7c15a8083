// Package httpapi is the thin serving layer over the golden records. It
// delegates to stores without embedding merge logic so transport concerns
// stay isolated from the resolution core.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"unify/internal/domain"
	"unify/pkg/platform/sentinel"
)

// ProfileReader is the read-by-id and identifier lookup surface the API needs.
type ProfileReader interface {
	Get(ctx context.Context, profileID string) (*domain.Profile, error)
	FindByIdentifier(ctx context.Context, ident domain.Identifier) (*domain.Profile, error)
}

// DecisionReader lists the audit trail for one profile.
type DecisionReader interface {
	ListByProfile(ctx context.Context, profileID string) ([]domain.MergeDecision, error)
}

// Handler serves profile lookups and decision history.
type Handler struct {
	profiles  ProfileReader
	decisions DecisionReader
	logger    *slog.Logger
}

func NewHandler(profiles ProfileReader, decisions DecisionReader, logger *slog.Logger) *Handler {
	return &Handler{profiles: profiles, decisions: decisions, logger: logger}
}

// Register mounts profile endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/profiles/lookup", h.HandleLookup)
	r.Get("/v1/profiles/{profileID}", h.HandleGet)
	r.Get("/v1/profiles/{profileID}/decisions", h.HandleDecisions)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	prof, err := h.profiles.Get(r.Context(), profileID)
	if err != nil {
		h.writeProfileError(w, r, err)
		return
	}
	h.writeProfile(w, r, prof)
}

func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	kind := domain.IdentifierKind(r.URL.Query().Get("kind"))
	value := r.URL.Query().Get("value")
	if kind == "" || value == "" {
		writeError(w, http.StatusBadRequest, "kind and value query parameters are required")
		return
	}
	prof, err := h.profiles.FindByIdentifier(r.Context(), domain.Identifier{Kind: kind, Value: value})
	if err != nil {
		h.writeProfileError(w, r, err)
		return
	}
	h.writeProfile(w, r, prof)
}

func (h *Handler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	decisions, err := h.decisions.ListByProfile(r.Context(), profileID)
	if err != nil {
		h.logger.Error("list decisions failed", "profile_id", profileID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (h *Handler) writeProfile(w http.ResponseWriter, r *http.Request, prof *domain.Profile) {
	if !HasScope(r.Context(), ScopePIIRead) {
		prof = redact(prof)
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *Handler) writeProfileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	h.logger.Error("profile read failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// piiAttributes and piiKinds are masked for callers without pii:read.
var piiAttributes = map[string]bool{
	domain.AttrName: true,
	"email_address": true,
	"phone_number":  true,
}

var piiKinds = map[domain.IdentifierKind]bool{
	domain.KindEmail: true,
	domain.KindPhone: true,
}

const redacted = "[REDACTED]"

func redact(p *domain.Profile) *domain.Profile {
	cp := p.Clone()
	for name, rec := range cp.Attributes {
		if piiAttributes[name] {
			rec.Value = redacted
			cp.Attributes[name] = rec
		}
	}
	for i, rec := range cp.Identifiers {
		if piiKinds[rec.Kind] {
			cp.Identifiers[i].Value = redacted
		}
	}
	return cp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
