package finderfees

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Handler exposes finder fee endpoints.
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

// MountRoutes registers finder fee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills/{id}/net-amount", h.netAmount)
	r.Get("/bills/{id}/finder-fees", h.listForBill)
	r.Post("/bills/{id}/finder-fees", h.calculate)
	r.Get("/finders/{id}/fees", h.listForFinder)
	r.Get("/finders/{id}/summary", h.summary)
	r.Post("/finder-fees/{id}/payments", h.recordPayment)
}

type netAmountResponse struct {
	BillID    int64           `json:"billId"`
	NetAmount decimal.Decimal `json:"netAmount"`
}

func (h *Handler) netAmount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	net, err := h.service.NetAmount(r.Context(), id)
	if err != nil {
		h.respondError(w, "net amount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, netAmountResponse{BillID: id, NetAmount: net})
}

func (h *Handler) listForBill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fees, err := h.service.FeesForBill(r.Context(), id)
	if err != nil {
		h.respondError(w, "list bill fees", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(fees))
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.CalculateAndCreate(r.Context(), id)
	if err != nil {
		h.respondError(w, "calculate finder fees", err)
		return
	}
	out.Created = nonNil(out.Created)
	status := http.StatusOK
	if len(out.Created) > 0 {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, out)
}

func (h *Handler) listForFinder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fees, err := h.service.FeesForFinder(r.Context(), id)
	if err != nil {
		h.respondError(w, "list finder fees", err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(fees))
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), id)
	if err != nil {
		h.respondError(w, "finder summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PaidAt *time.Time      `json:"paidAt"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var paidAt time.Time
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	fee, err := h.service.RecordPayment(r.Context(), id, req.Amount, paidAt)
	if err != nil {
		h.respondError(w, "record finder fee payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, fee)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if _, ok := shared.AsFieldErrors(err); !ok {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func nonNil(fees []FinderFee) []FinderFee {
	if fees == nil {
		return []FinderFee{}
	}
	return fees
}
