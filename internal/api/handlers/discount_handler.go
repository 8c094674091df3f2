package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Cheertaboi/discount-code-service/internal/models"
	"github.com/Cheertaboi/discount-code-service/internal/service"
)

const defaultRecentCount = 10

// DiscountService is what the transport needs from the service layer.
type DiscountService interface {
	UseCode(ctx context.Context, code string) service.Outcome
	GenerateAndAdd(ctx context.Context, count, length int) bool
	GetAllCodes(ctx context.Context) ([]string, error)
	GetMostRecent(ctx context.Context, n int) ([]string, error)
	GetCode(ctx context.Context, code string) (*models.DiscountCode, error)
	DeactivateCode(ctx context.Context, code string) error
	SoftDeleteCode(ctx context.Context, code string) error
	DeleteCode(ctx context.Context, code string) error
}

// Notifier fans an event out to connected real-time clients.
type Notifier interface {
	Broadcast(event string, data any)
}

const (
	EventCodeGenerated = "CodeGenerated"
	EventCodeUsed      = "CodeUsed"
)

// --- Request / Response DTOs ---

type GenerateRequest struct {
	Count  int `json:"count"`
	Length int `json:"length"`
}

type GenerateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UseCodeResponse struct {
	Result  byte   `json:"result"`
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

type CodesResponse struct {
	Codes []string `json:"codes"`
}

type GeneratedEvent struct {
	Count  int `json:"count"`
	Length int `json:"length"`
}

// --- Handler struct & constructor ---

type DiscountHandler struct {
	svc      DiscountService
	notifier Notifier
	logger   *slog.Logger
}

func NewDiscountHandler(svc DiscountService, notifier Notifier, logger *slog.Logger) *DiscountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscountHandler{svc: svc, notifier: notifier, logger: logger}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and a fixed message. Internal error text
// is logged, never written.
func (h *DiscountHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "code_not_found"})
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func (h *DiscountHandler) notify(event string, data any) {
	if h.notifier != nil {
		h.notifier.Broadcast(event, data)
	}
}

func outcomeStatus(o service.Outcome) int {
	switch o {
	case service.Success:
		return http.StatusOK
	case service.Failure:
		return http.StatusNotFound
	case service.Exception:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// --- Handlers ---

// GenerateCodes handles POST /codes/generate
func (h *DiscountHandler) GenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, GenerateResponse{Error: "invalid_body"})
		return
	}
	if msg := validateGenerateInput(req.Count, req.Length); msg != "" {
		writeJSON(w, http.StatusBadRequest, GenerateResponse{Error: msg})
		return
	}

	if !h.svc.GenerateAndAdd(r.Context(), req.Count, req.Length) {
		writeJSON(w, http.StatusInternalServerError, GenerateResponse{Error: "Failed to generate codes."})
		return
	}
	h.notify(EventCodeGenerated, GeneratedEvent{Count: req.Count, Length: req.Length})
	writeJSON(w, http.StatusCreated, GenerateResponse{Success: true})
}

// UseCode handles POST /codes/{code}/use
func (h *DiscountHandler) UseCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if msg := validateUseCodeInput(code, models.MaxCodeLength); msg != "" {
		writeJSON(w, http.StatusBadRequest, UseCodeResponse{
			Result:  byte(service.Failure),
			Outcome: service.Failure.String(),
			Message: msg,
		})
		return
	}

	outcome := h.svc.UseCode(r.Context(), code)
	if outcome == service.Success {
		h.notify(EventCodeUsed, code)
	}
	writeJSON(w, outcomeStatus(outcome), UseCodeResponse{
		Result:  byte(outcome),
		Outcome: outcome.String(),
		Message: outcome.Message(),
	})
}

// ListCodes handles GET /codes
func (h *DiscountHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.svc.GetAllCodes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CodesResponse{Codes: codes})
}

// RecentCodes handles GET /codes/recent?count=N
func (h *DiscountHandler) RecentCodes(w http.ResponseWriter, r *http.Request) {
	count := defaultRecentCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be an integer"})
			return
		}
		count = n
	}

	codes, err := h.svc.GetMostRecent(r.Context(), count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CodesResponse{Codes: codes})
}

// GetCode handles GET /admin/codes/{code}
func (h *DiscountHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	dc, err := h.svc.GetCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dc)
}

// DeactivateCode handles POST /admin/codes/{code}/deactivate
func (h *DiscountHandler) DeactivateCode(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateCode(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "code_deactivated"})
}

// DeleteCode handles DELETE /admin/codes/{code}. The row is kept and marked
// deleted unless hard=true is passed.
func (h *DiscountHandler) DeleteCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))

	var err error
	if hard {
		err = h.svc.DeleteCode(r.Context(), code)
	} else {
		err = h.svc.SoftDeleteCode(r.Context(), code)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
