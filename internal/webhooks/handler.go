package webhooks

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes subscription management and the delivery log.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds handler.
func NewHandler(service *Service, logger *slog.Logger, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, logger: logger, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers webhook routes; every route requires webhooks.manage.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(rbac.CapWebhooksManage))
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/deliveries", h.deliveries)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list webhooks failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if hooks == nil {
		hooks = []Webhook{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": hooks})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	hook, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, hook)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	hook, err := h.service.Create(r.Context(), form)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("webhook created", slog.Int64("webhook_id", hook.ID), slog.String("webhook_type", string(hook.WebhookType)))
	httpx.JSON(w, http.StatusCreated, hook)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	hook, err := h.service.Update(r.Context(), id, form)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, hook)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	filter := DeliveryFilter{Limit: perPage, Offset: shared.Offset(page, perPage)}
	if raw := q.Get("webhook_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("webhook_id", "is invalid"))
			return
		}
		filter.WebhookID = id
	}
	if raw := q.Get("event_type"); raw != "" {
		eventType, err := inventory.ParseEventType(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.EventType = eventType
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("success", "must be true or false"))
			return
		}
		filter.Success = &success
	}
	items, total, err := h.service.ListDeliveries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list deliveries failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Delivery{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Delivery]{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) decodeForm(w http.ResponseWriter, r *http.Request) (WebhookForm, bool) {
	var form WebhookForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return form, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, err)
		return form, false
	}
	return form, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "is invalid"))
		return 0, false
	}
	return id, true
}
