package partners

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/masterdata/shared"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	internalShared "github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryView))
		r.Get("/", h.List)
		r.Get("/{id}", h.Show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapProductsManage))
		r.Post("/", h.Create)
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := internalShared.PageFromQuery(q)
	partners, total, err := h.service.List(r.Context(), shared.ListFilters{
		Page:   page,
		Limit:  perPage,
		Search: q.Get("search"),
		Kind:   q.Get("kind"),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if partners == nil {
		partners = []Partner{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Partner]{Items: partners, Pagination: internalShared.NewPagination(page, perPage, total)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, internalShared.NewValidationError("id", "is invalid"))
		return
	}
	partner, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, partner)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var form PartnerForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	partner, err := h.service.Create(r.Context(), form)
	if err != nil {
		h.logger.Error("create partner failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, partner)
}
