package purchasing

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

// Handler exposes purchase bill endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{billNo}", h.get)
}

type lineRequest struct {
	ItemCode   string          `json:"item_code" validate:"max=40"`
	ItemName   string          `json:"item_name" validate:"required,max=120"`
	CategoryID int64           `json:"category_id" validate:"gte=0"`
	Qty        float64         `json:"qty" validate:"gt=0"`
	Rate       decimal.Decimal `json:"rate"`
}

type createRequest struct {
	SupplierID    int64           `json:"supplier_id" validate:"required,gt=0"`
	SupplierName  string          `json:"supplier_name" validate:"required,max=160"`
	InvoiceNo     string          `json:"invoice_no" validate:"max=60"`
	BillDate      string          `json:"bill_date"`
	GST           decimal.Decimal `json:"gst"`
	OtherTax      decimal.Decimal `json:"other_tax"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BankAccountID int64           `json:"bank_account_id" validate:"gte=0"`
	Remarks       string          `json:"remarks" validate:"max=255"`
	Lines         []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	billDate, err := shared.ParseBusinessDate(req.BillDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		SupplierID:    req.SupplierID,
		SupplierName:  req.SupplierName,
		InvoiceNo:     req.InvoiceNo,
		BillDate:      billDate,
		GST:           req.GST,
		OtherTax:      req.OtherTax,
		PaidAmount:    req.PaidAmount,
		BankAccountID: req.BankAccountID,
		Remarks:       req.Remarks,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemCode: l.ItemCode, ItemName: l.ItemName, CategoryID: l.CategoryID, Qty: l.Qty, Rate: l.Rate})
	}
	result, err := h.service.CreatePurchaseBill(r.Context(), httpx.Actor(r), input)
	if err != nil {
		h.fail(w, "create purchase bill", err)
		return
	}
	for _, warning := range result.Warnings {
		h.logger.Warn("purchase side effect degraded", slog.String("bill_no", result.Bill.BillNo), slog.String("warning", warning.String()))
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.GetPurchaseBill(r.Context(), chi.URLParam(r, "billNo"))
	if err != nil {
		h.fail(w, "get purchase bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
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
	filter := ListFilter{Status: Status(q.Get("status")), From: from, To: to}
	if v := q.Get("supplier_id"); v != "" {
		if filter.SupplierID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.RespondError(w, &httpx.ValidationError{Fields: map[string]string{"supplier_id": "must be numeric"}})
			return
		}
	}
	bills, err := h.service.ListPurchaseBills(r.Context(), filter)
	if err != nil {
		h.fail(w, "list purchase bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bills)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
