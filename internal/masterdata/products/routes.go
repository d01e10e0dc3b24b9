package products

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryView))
		r.Get("/", h.List)
		r.Get("/{id}", h.Show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapProductsManage))
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Post("/{id}/archive", h.Archive)
	})
}
