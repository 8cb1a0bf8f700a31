// Package api exposes the wizard over HTTP. Each request rehydrates the
// session from the store, applies one operation, and persists the result.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"letter-wizard/internal/audit"
	"letter-wizard/internal/clients/lookup"
	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/observability"
	"letter-wizard/internal/notify"
	"letter-wizard/internal/verify"
	"letter-wizard/internal/wizard/controller"
	"letter-wizard/internal/wizard/fields"
	"letter-wizard/internal/wizard/session"
	"letter-wizard/internal/wizard/steps"
)

// Handler holds everything the HTTP surface needs.
type Handler struct {
	sessions *session.Store
	deps     controller.Dependencies
	lookup   *lookup.Client
	notifier *notify.Service
	store    *audit.Store
	indexer  *audit.Indexer
	logger   logger.Logger
	obs      *observability.Observability
}

func NewHandler(
	sessions *session.Store,
	deps controller.Dependencies,
	lookupClient *lookup.Client,
	notifier *notify.Service,
	store *audit.Store,
	indexer *audit.Indexer,
	log logger.Logger,
	obs *observability.Observability,
) *Handler {
	return &Handler{
		sessions: sessions,
		deps:     deps,
		lookup:   lookupClient,
		notifier: notifier,
		store:    store,
		indexer:  indexer,
		logger:   log,
		obs:      obs,
	}
}

// ==========================
// 1. Wire Types
// ==========================

type createSessionRequest struct {
	Locale string `json:"locale,omitempty"`
}

type advanceRequest struct {
	Fields *fields.FormFields `json:"fields,omitempty"`
}

type confirmAddressRequest struct {
	UseCandidate bool `json:"use_candidate"`
}

type sessionView struct {
	SessionID    string                       `json:"session_id"`
	Route        steps.Route                  `json:"route"`
	Progress     int                          `json:"progress"`
	Fields       fields.FormFields            `json:"fields"`
	Verification verify.Snapshot              `json:"verification"`
	Result       interface{}                  `json:"result,omitempty"`
	Advance      *controller.AdvanceResult    `json:"advance,omitempty"`
}

type errorResponse struct {
	Error *errors.StandardError `json:"error"`
}

// ==========================
// 2. Helpers
// ==========================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, stdErr *errors.StandardError) {
	status := http.StatusInternalServerError
	switch stdErr.Code {
	case errors.ErrCodeSessionNotFound, errors.ErrCodeLookupNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeValidationFailed, errors.ErrCodeStepBlocked, errors.ErrCodeFlowComplete:
		status = http.StatusConflict
	}
	h.writeJSON(w, status, errorResponse{Error: stdErr})
}

func (h *Handler) loadController(ctx context.Context, id string) (*controller.Controller, *errors.StandardError) {
	snap, stdErr := h.sessions.Load(ctx, id)
	if stdErr != nil {
		return nil, stdErr
	}
	return controller.Restore(snap, h.deps), nil
}

func (h *Handler) saveController(ctx context.Context, id string, c *controller.Controller) *errors.StandardError {
	return h.sessions.Save(ctx, id, c.Snapshot())
}

func (h *Handler) view(id string, c *controller.Controller, advance *controller.AdvanceResult) sessionView {
	route, progress := c.Current()
	return sessionView{
		SessionID:    id,
		Route:        route,
		Progress:     progress,
		Fields:       c.Fields(),
		Verification: c.Verification(),
		Result:       c.Result(),
		Advance:      advance,
	}
}

// ==========================
// 3. Handlers
// ==========================

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, errors.NewValidationFailedError("malformed request body"))
		return
	}

	deps := h.deps
	if req.Locale != "" {
		deps.Locale = req.Locale
	}

	id := session.NewID()
	c := controller.New(deps)
	if stdErr := h.saveController(r.Context(), id, c); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	h.obs.RecordRequest(r.Context(), "session_created")
	h.writeJSON(w, http.StatusCreated, h.view(id, c, nil))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	c, stdErr := h.loadController(r.Context(), id)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(id, c, nil))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if stdErr := h.sessions.Delete(r.Context(), id); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	id := chi.URLParam(r, "sessionID")

	c, stdErr := h.loadController(r.Context(), id)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, errors.NewValidationFailedError("malformed request body"))
		return
	}
	if req.Fields != nil {
		if stdErr := c.SetFields(*req.Fields); stdErr != nil {
			h.writeError(w, stdErr)
			return
		}
	}

	result := c.Advance(r.Context())
	if result.Status == controller.StatusCompleted {
		h.recordCompletion(r.Context(), id, c)
	}

	if stdErr := h.saveController(r.Context(), id, c); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	h.obs.RecordRequest(r.Context(), string(result.Status))
	h.obs.RecordTransitionDuration(r.Context(), time.Since(started), string(result.Status))
	h.writeJSON(w, http.StatusOK, h.view(id, c, result))
}

func (h *Handler) retreat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	c, stdErr := h.loadController(r.Context(), id)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	result, stdErr := c.Retreat()
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	if stdErr := h.saveController(r.Context(), id, c); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	h.obs.RecordRequest(r.Context(), "retreated")
	h.writeJSON(w, http.StatusOK, h.view(id, c, result))
}

func (h *Handler) confirmAddress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	c, stdErr := h.loadController(r.Context(), id)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	var req confirmAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.NewValidationFailedError("malformed request body"))
		return
	}

	accepted, stdErr := c.ConfirmAddress(req.UseCandidate)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	if stdErr := h.saveController(r.Context(), id, c); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": accepted,
		"session":  h.view(id, c, nil),
	})
}

func (h *Handler) resetAddress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	c, stdErr := h.loadController(r.Context(), id)
	if stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	if stdErr := c.ResetAddress(); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	if stdErr := h.saveController(r.Context(), id, c); stdErr != nil {
		h.writeError(w, stdErr)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(id, c, nil))
}

func (h *Handler) landlordForBuilding(w http.ResponseWriter, r *http.Request) {
	bbl := chi.URLParam(r, "bbl")

	owner, err := h.lookup.LandlordFor(r.Context(), bbl)
	if err != nil {
		if stdErr, ok := err.(*errors.StandardError); ok {
			h.writeError(w, stdErr)
			return
		}
		h.writeError(w, errors.NewLookupFailedError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, owner)
}

// recordCompletion writes the audit trail and fans out tenant copies. None
// of this can fail the submission; the letter is already accepted.
func (h *Handler) recordCompletion(ctx context.Context, id string, c *controller.Controller) {
	conf := c.Result()
	if conf == nil {
		return
	}
	f := c.Fields()
	locale := c.Locale()

	html, err := h.deps.Renderer.Render(&f, locale, conf.SubmittedAt)
	if err != nil {
		h.logger.Error("Audit render failed", map[string]interface{}{
			"letter_id": conf.LetterID,
			"error":     err.Error(),
		})
		html = ""
	}

	copies := len(f.ExtraEmails)
	if f.CCUser {
		copies++
	}
	rec := &audit.LetterRecord{
		LetterID:       conf.LetterID,
		SessionID:      id,
		Reason:         string(f.Reason),
		BBL:            f.User.BBL,
		LandlordName:   f.Landlord.Name,
		TrackingNumber: conf.Mail.TrackingNumber,
		Locale:         locale,
		MailChoice:     string(f.MailChoice),
		EmailedCopies:  copies,
		SubmittedAt:    conf.SubmittedAt,
		HTML:           html,
	}

	if h.store != nil {
		if stdErr := h.store.InsertLetter(ctx, rec); stdErr != nil {
			h.logger.Error("Letter audit write failed", map[string]interface{}{
				"letter_id": conf.LetterID,
				"error":     stdErr.Error(),
			})
		}
	}
	if h.indexer != nil {
		if stdErr := h.indexer.IndexLetter(ctx, rec); stdErr != nil {
			h.logger.Warn("Letter audit index failed", map[string]interface{}{
				"letter_id": conf.LetterID,
				"error":     stdErr.Error(),
			})
		}
	}
	if h.notifier != nil && html != "" {
		h.notifier.FanOut(ctx, &f, html, conf)
	}
}
