package bills

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// IdempotencyHeader carries the caller's key for the paid webhook.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes bill endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: shared.NewValidator()}
}

// MountRoutes registers bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bills", h.create)
	r.Get("/bills/{id}", h.show)
	r.Post("/bills/{id}/paid", h.markPaid)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.ValidationProblem(w, shared.FromValidator(err))
		return
	}
	b, err := h.service.CreateFromProposal(r.Context(), in)
	if err != nil {
		h.respondError(w, "create bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

type paidRequest struct {
	PaidAt *time.Time `json:"paidAt"`
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paidRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	var paidAt time.Time
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	out, err := h.service.MarkPaid(r.Context(), id, paidAt, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.respondError(w, "mark bill paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if _, ok := shared.AsFieldErrors(err); !ok {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
