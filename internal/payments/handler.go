package payments

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

// Handler exposes receipt endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
}

type allocationRequest struct {
	BillNo string          `json:"bill_no" validate:"required,max=40"`
	Amount decimal.Decimal `json:"amount"`
}

type createRequest struct {
	Side          string              `json:"side" validate:"required,oneof=SUPPLIER CUSTOMER"`
	PartyID       int64               `json:"party_id" validate:"required,gt=0"`
	PartyName     string              `json:"party_name" validate:"max=160"`
	BankAccountID int64               `json:"bank_account_id" validate:"required,gt=0"`
	Total         decimal.Decimal     `json:"total"`
	Mode          string              `json:"mode" validate:"max=20"`
	ChequeNo      string              `json:"cheque_no" validate:"max=40"`
	RefNo         string              `json:"ref_no" validate:"max=60"`
	Date          string              `json:"date"`
	Remarks       string              `json:"remarks" validate:"max=255"`
	Allocations   []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := shared.ParseBusinessDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := GroupedPaymentInput{
		Side:           Side(req.Side),
		PartyID:        req.PartyID,
		PartyName:      req.PartyName,
		BankAccountID:  req.BankAccountID,
		Total:          req.Total,
		Mode:           req.Mode,
		ChequeNo:       req.ChequeNo,
		RefNo:          req.RefNo,
		Date:           date,
		Remarks:        req.Remarks,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, a := range req.Allocations {
		input.Allocations = append(input.Allocations, AllocationInput{BillNo: a.BillNo, Amount: a.Amount})
	}
	receipt, err := h.service.RecordGroupedPayment(r.Context(), httpx.Actor(r), input)
	if err != nil {
		h.fail(w, "record grouped payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.DeleteReceipt(r.Context(), httpx.Actor(r), id)
	if err != nil {
		h.fail(w, "delete receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
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
	filter := ReceiptFilter{Side: Side(q.Get("side")), BillNo: q.Get("bill_no"), From: from, To: to}
	if v := q.Get("party_id"); v != "" {
		if filter.PartyID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.RespondError(w, &httpx.ValidationError{Fields: map[string]string{"party_id": "must be numeric"}})
			return
		}
	}
	receipts, err := h.service.ListReceipts(r.Context(), filter)
	if err != nil {
		h.fail(w, "list receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipts)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
