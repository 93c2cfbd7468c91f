package proposals

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-billing/internal/paymentterms"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Handler exposes proposal endpoints.
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

// MountRoutes registers proposal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/proposals", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/quote", h.quote)
		r.Get("/{id}", h.show)
		r.Put("/{id}", h.update)
		r.Post("/{id}/finalize", h.finalize)
	})
	r.Post("/payment-terms/validate", h.validateTerms)
}

type listResponse struct {
	Data       []Summary         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Status: Status(q.Get("status"))}
	var err error
	if f.ClientID, err = queryInt64(q.Get("clientId")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if f.LeadID, err = queryInt64(q.Get("leadId")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("perPage"))

	items, page, err := h.service.List(r.Context(), f)
	if err != nil {
		h.respondError(w, "list proposals", err)
		return
	}
	if items == nil {
		items = []Summary{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	p, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, "create proposal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	p, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.respondError(w, "update proposal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get proposal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Finalize(r.Context(), id)
	if err != nil {
		h.respondError(w, "finalize proposal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	out, err := h.service.Quote(r.Context(), in)
	if err != nil {
		h.respondError(w, "quote proposal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type validateTermsRequest struct {
	paymentterms.Document
	MilestoneCount int `json:"milestoneCount" validate:"gte=0"`
}

func (h *Handler) validateTerms(w http.ResponseWriter, r *http.Request) {
	var req validateTermsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, shared.FromValidator(err))
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.ValidateTerms(req.Document, req.MilestoneCount))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.ValidationProblem(w, shared.FromValidator(err))
		return Input{}, false
	}
	return in, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if _, ok := shared.AsFieldErrors(err); !ok {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, httpx.ErrValidation
	}
	return n, nil
}
