package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// IdempotencyHeader carries the client replay key for movement creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes stock movement endpoints.
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

// MountRoutes registers movement routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryView))
		r.Get("/inbound", h.listInbounds)
		r.Get("/outbound", h.listOutbounds)
		r.Get("/reconciliations", h.listReconciliations)
		r.Get("/batches", h.listBatches)
	})
	r.With(h.rbac.Require(rbac.CapInventoryMove)).Post("/inbound", h.postInbound)
	r.With(h.rbac.Require(rbac.CapInventoryMove)).Post("/outbound", h.postOutbound)
	r.With(h.rbac.Require(rbac.CapInventoryReconcile)).Post("/reconciliations", h.postReconciliation)
	r.With(h.rbac.Require(rbac.CapInventoryBulk)).Post("/bulk-movements", h.postBulk)
}

type inboundRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	SupplierID    *int64 `json:"supplier_id" validate:"omitempty,gt=0"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	BatchID       string `json:"batch_id" validate:"max=100"`
	ExpiryDate    string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	InvoiceNumber string `json:"invoice_number" validate:"max=100"`
	InvoiceFile   string `json:"invoice_file" validate:"max=255"`
}

type outboundRequest struct {
	ProductID        int64  `json:"product_id" validate:"required,gt=0"`
	CustomerID       *int64 `json:"customer_id" validate:"omitempty,gt=0"`
	Quantity         int    `json:"quantity" validate:"required,gt=0"`
	SOReference      string `json:"so_reference" validate:"max=100"`
	DispatchDate     string `json:"dispatch_date" validate:"omitempty,datetime=2006-01-02"`
	DeliveryNoteFile string `json:"delivery_note_file" validate:"max=255"`
}

type reconcileRequest struct {
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	CountedQuantity *int   `json:"counted_quantity" validate:"required,gte=0"`
	Reason          string `json:"reason" validate:"max=500"`
}

type bulkRowRequest struct {
	Type          string `json:"type" validate:"required,oneof=inbound outbound"`
	ProductID     int64  `json:"product_id" validate:"omitempty,gt=0"`
	SKU           string `json:"sku" validate:"required_without=ProductID,max=50"`
	Quantity      int    `json:"quantity"`
	BatchID       string `json:"batch_id" validate:"max=100"`
	ExpiryDate    string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	InvoiceNumber string `json:"invoice_number" validate:"max=100"`
	SOReference   string `json:"so_reference" validate:"max=100"`
}

type bulkRequest struct {
	FileName string           `json:"file_name" validate:"max=255"`
	Rows     []bulkRowRequest `json:"rows" validate:"required,min=1,dive"`
}

func (h *Handler) postInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiry, err := parseDate("expiry_date", req.ExpiryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ApplyInbound(r.Context(), InboundInput{
		ProductID:      req.ProductID,
		SupplierID:     req.SupplierID,
		Quantity:       req.Quantity,
		BatchID:        strings.TrimSpace(req.BatchID),
		ExpiryDate:     expiry,
		InvoiceNumber:  req.InvoiceNumber,
		InvoiceFile:    req.InvoiceFile,
		Actor:          shared.PrincipalFromContext(r.Context()),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.logger.Warn("inbound rejected", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) postOutbound(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if !h.decode(w, r, &req) {
		return
	}
	dispatch, err := parseDate("dispatch_date", req.DispatchDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ApplyOutbound(r.Context(), OutboundInput{
		ProductID:        req.ProductID,
		CustomerID:       req.CustomerID,
		Quantity:         req.Quantity,
		SOReference:      req.SOReference,
		DispatchDate:     dispatch,
		DeliveryNoteFile: req.DeliveryNoteFile,
		Actor:            shared.PrincipalFromContext(r.Context()),
		IdempotencyKey:   r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.logger.Warn("outbound rejected", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) postReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Reconcile(r.Context(), ReconcileInput{
		ProductID:       req.ProductID,
		CountedQuantity: *req.CountedQuantity,
		Reason:          req.Reason,
		Actor:           shared.PrincipalFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) postBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	rows := make([]BulkRow, 0, len(req.Rows))
	for i, row := range req.Rows {
		expiry, err := parseDate("rows["+strconv.Itoa(i)+"].expiry_date", row.ExpiryDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		rows = append(rows, BulkRow{
			Type:          row.Type,
			ProductID:     row.ProductID,
			SKU:           row.SKU,
			Quantity:      row.Quantity,
			BatchID:       strings.TrimSpace(row.BatchID),
			ExpiryDate:    expiry,
			InvoiceNumber: row.InvoiceNumber,
			SOReference:   row.SOReference,
		})
	}
	result, err := h.service.ApplyBulk(r.Context(), BulkInput{
		FileName: req.FileName,
		Rows:     rows,
		Actor:    shared.PrincipalFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listInbounds(w http.ResponseWriter, r *http.Request) {
	filter, page, perPage, ok := movementFilter(w, r)
	if !ok {
		return
	}
	items, total, err := h.service.ListInbounds(r.Context(), filter)
	if err != nil {
		h.logger.Error("list inbounds failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Inbound{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Inbound]{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) listOutbounds(w http.ResponseWriter, r *http.Request) {
	filter, page, perPage, ok := movementFilter(w, r)
	if !ok {
		return
	}
	items, total, err := h.service.ListOutbounds(r.Context(), filter)
	if err != nil {
		h.logger.Error("list outbounds failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Outbound{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Outbound]{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) listReconciliations(w http.ResponseWriter, r *http.Request) {
	filter, page, perPage, ok := movementFilter(w, r)
	if !ok {
		return
	}
	items, total, err := h.service.ListReconciliations(r.Context(), filter)
	if err != nil {
		h.logger.Error("list reconciliations failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Reconciliation{}
	}
	httpx.JSON(w, http.StatusOK, httpx.Page[Reconciliation]{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err := parseID(q.Get("product_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	views, err := h.service.ListBatches(r.Context(), BatchFilter{
		ProductID:     productID,
		AvailableOnly: q.Get("available") == "true",
	})
	if err != nil {
		h.logger.Error("list batches failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func movementFilter(w http.ResponseWriter, r *http.Request) (MovementFilter, int, int, bool) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	productID, err := parseID(q.Get("product_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return MovementFilter{}, 0, 0, false
	}
	return MovementFilter{ProductID: productID, Limit: perPage, Offset: shared.Offset(page, perPage)}, page, perPage, true
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError("product_id", "is invalid")
	}
	return id, nil
}

func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, shared.NewValidationError(field, "must be YYYY-MM-DD")
	}
	return &t, nil
}
