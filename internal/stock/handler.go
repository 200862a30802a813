package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/platform/httpx"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Handler exposes stock ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.current)
	r.Get("/items/low", h.lowStock)
	r.Get("/items/{id}/entries", h.history)
	r.Get("/items/{id}/reconcile", h.reconcile)
	r.Post("/purchases", h.addStock)
	r.Post("/adjustments", h.adjust)
	r.Put("/categories/{id}/tracking", h.setTracking)
}

type movementRequest struct {
	ItemCode   string          `json:"item_code" validate:"required_without=ItemName,max=60"`
	ItemName   string          `json:"item_name" validate:"required_without=ItemCode,max=120"`
	CategoryID int64           `json:"category_id" validate:"gte=0"`
	Quantity   float64         `json:"quantity" validate:"gt=0"`
	Rate       decimal.Decimal `json:"rate"`
	RefNo      string          `json:"ref_no" validate:"max=80"`
	Remarks    string          `json:"remarks" validate:"max=255"`
}

type adjustRequest struct {
	ItemCode    string  `json:"item_code" validate:"required_without=ItemName,max=60"`
	ItemName    string  `json:"item_name" validate:"required_without=ItemCode,max=120"`
	CategoryID  int64   `json:"category_id" validate:"gte=0"`
	TargetStock float64 `json:"target_stock"`
	RefNo       string  `json:"ref_no" validate:"max=80"`
	Remarks     string  `json:"remarks" validate:"max=255"`
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	item, err := h.service.CurrentStock(r.Context(), q.Get("code"), q.Get("name"))
	if err != nil {
		h.fail(w, "current stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "threshold must be numeric")
			return
		}
		threshold = v
	}
	items, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		h.fail(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	from, err := shared.ParseBusinessDate(q.Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := shared.ParseBusinessDate(q.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), HistoryFilter{ItemID: id, Type: EntryType(q.Get("type")), RefNo: q.Get("ref_no"), From: from, To: to})
	if err != nil {
		h.fail(w, "stock history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		h.fail(w, "stock reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.AddStock(r.Context(), httpx.Actor(r), Movement{
		ItemCode:   req.ItemCode,
		ItemName:   req.ItemName,
		CategoryID: req.CategoryID,
		Quantity:   req.Quantity,
		Rate:       req.Rate,
		RefType:    RefManual,
		RefNo:      req.RefNo,
		Remarks:    req.Remarks,
	})
	if err != nil {
		h.fail(w, "add stock", err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.AdjustStock(r.Context(), httpx.Actor(r), AdjustInput{
		ItemCode:    req.ItemCode,
		ItemName:    req.ItemName,
		CategoryID:  req.CategoryID,
		TargetStock: req.TargetStock,
		RefNo:       req.RefNo,
		Remarks:     req.Remarks,
	})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type trackingRequest struct {
	Tracked *bool `json:"tracked" validate:"required"`
}

func (h *Handler) setTracking(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req trackingRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetCategoryTracked(r.Context(), httpx.Actor(r), id, *req.Tracked); err != nil {
		h.fail(w, "set category tracking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
