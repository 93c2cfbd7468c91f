package directory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

// Handler exposes directory lookups used by proposal forms.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/clients/{id}", h.getClient)
	r.Get("/clients/{id}/finders", h.listFinders)
	r.Get("/users/{id}/billing-rate", h.billingRate)
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	client, err := h.service.Client(r.Context(), id)
	if err != nil {
		h.respondError(w, "get client", err)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

func (h *Handler) listFinders(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	finders, err := h.service.Finders(r.Context(), id)
	if err != nil {
		h.respondError(w, "list finders", err)
		return
	}
	if finders == nil {
		finders = []ClientFinder{}
	}
	httpx.JSON(w, http.StatusOK, finders)
}

type billingRateResponse struct {
	UserID    int64            `json:"userId"`
	ProjectID int64            `json:"projectId,omitempty"`
	Rate      *decimal.Decimal `json:"rate"`
}

func (h *Handler) billingRate(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var projectID int64
	if raw := r.URL.Query().Get("projectId"); raw != "" {
		projectID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"projectId": "Invalid value"})
			return
		}
	}
	rate, err := h.service.BillingRateForUserInProject(r.Context(), userID, projectID)
	if err != nil {
		h.respondError(w, "billing rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, billingRateResponse{UserID: userID, ProjectID: projectID, Rate: rate})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
