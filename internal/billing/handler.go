package billing

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

// Handler exposes draft order and bill endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers table and bill routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tables/{tableNo}", func(r chi.Router) {
		r.Get("/draft", h.listDraft)
		r.Post("/draft", h.addDraftLine)
		r.Delete("/draft", h.clearDraft)
		r.Post("/draft/print", h.markPrinted)
		r.Get("/bill", h.openBill)
		r.Post("/bills", h.finalize)
	})
	r.Route("/bills", func(r chi.Router) {
		r.Get("/", h.listBills)
		r.Get("/{billNo}", h.getBill)
		r.Post("/{billNo}/pay", h.markPaid)
		r.Post("/{billNo}/credit", h.markCredit)
		r.Post("/{billNo}/lines", h.addTransactions)
		r.Put("/{billNo}/lines", h.updateLines)
		r.Post("/{billNo}/shift", h.shift)
	})
}

type draftRequest struct {
	ItemCode string          `json:"item_code" validate:"max=40"`
	ItemName string          `json:"item_name" validate:"required,max=120"`
	Qty      float64         `json:"qty" validate:"required"`
	Rate     decimal.Decimal `json:"rate"`
}

type paymentRequest struct {
	Discount      decimal.Decimal `json:"discount"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	Mode          string          `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD UPI CREDIT"`
	BankAccountID int64           `json:"bank_account_id" validate:"gte=0"`
	CustomerID    int64           `json:"customer_id" validate:"gte=0"`
	Date          string          `json:"date"`
}

type finalizeRequest struct {
	Status   string         `json:"status" validate:"required,oneof=CLOSE PAID CREDIT"`
	BillDate string         `json:"bill_date"`
	Payment  paymentRequest `json:"payment"`
}

type lineRequest struct {
	ItemCode string          `json:"item_code" validate:"max=40"`
	ItemName string          `json:"item_name" validate:"required,max=120"`
	Qty      float64         `json:"qty" validate:"gt=0"`
	Rate     decimal.Decimal `json:"rate"`
}

type updateLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type shiftRequest struct {
	TableNo string `json:"table_no" validate:"required,max=20"`
}

func (h *Handler) listDraft(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.ListDraftLines(r.Context(), chi.URLParam(r, "tableNo"))
	if err != nil {
		h.fail(w, "list draft lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) addDraftLine(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddDraftLine(r.Context(), httpx.Actor(r), DraftInput{
		TableNo:  chi.URLParam(r, "tableNo"),
		ItemCode: req.ItemCode,
		ItemName: req.ItemName,
		Qty:      req.Qty,
		Rate:     req.Rate,
	})
	if err != nil {
		h.fail(w, "add draft line", err)
		return
	}
	if line == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) clearDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearDraft(r.Context(), httpx.Actor(r), chi.URLParam(r, "tableNo")); err != nil {
		h.fail(w, "clear draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markPrinted(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.service.MarkPrinted(r.Context(), httpx.Actor(r), chi.URLParam(r, "tableNo"))
	if err != nil {
		h.fail(w, "mark draft printed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ticket)
}

func (h *Handler) openBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.OpenBillForTable(r.Context(), chi.URLParam(r, "tableNo"))
	if err != nil {
		h.fail(w, "open bill for table", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	billDate, err := shared.ParseBusinessDate(req.BillDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := req.Payment.toPayment()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := FinalizeInput{TableNo: chi.URLParam(r, "tableNo"), BillDate: billDate, Payment: payment}
	var result Result
	switch Status(req.Status) {
	case StatusPaid:
		result, err = h.service.CreatePaidBill(r.Context(), httpx.Actor(r), in)
	case StatusCredit:
		result, err = h.service.CreateCreditBill(r.Context(), httpx.Actor(r), in)
	default:
		result, err = h.service.CreateClosedBill(r.Context(), httpx.Actor(r), in)
	}
	if err != nil {
		h.fail(w, "create bill", err)
		return
	}
	h.respond(w, http.StatusCreated, result)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
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
	filter := BillFilter{Status: Status(q.Get("status")), TableNo: q.Get("table_no"), From: from, To: to}
	if v := q.Get("customer_id"); v != "" {
		if filter.CustomerID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.RespondError(w, &httpx.ValidationError{Fields: map[string]string{"customer_id": "must be numeric"}})
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	bills, err := h.service.ListBills(r.Context(), filter)
	if err != nil {
		h.fail(w, "list bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bills)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.service.GetBill(r.Context(), chi.URLParam(r, "billNo"))
	if err != nil {
		h.fail(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, StatusPaid)
}

func (h *Handler) markCredit(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, StatusCredit)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, status Status) {
	var req paymentRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := req.toPayment()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	billNo := chi.URLParam(r, "billNo")
	var result Result
	if status == StatusPaid {
		result, err = h.service.MarkAsPaid(r.Context(), httpx.Actor(r), billNo, payment)
	} else {
		result, err = h.service.MarkAsCredit(r.Context(), httpx.Actor(r), billNo, payment)
	}
	if err != nil {
		h.fail(w, "settle bill", err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) addTransactions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.AddTransactionsToClosedBill(r.Context(), httpx.Actor(r), chi.URLParam(r, "billNo"))
	if err != nil {
		h.fail(w, "add transactions to bill", err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	var req updateLinesRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{ItemCode: l.ItemCode, ItemName: l.ItemName, Qty: l.Qty, Rate: l.Rate})
	}
	result, err := h.service.UpdateBillWithTransactions(r.Context(), httpx.Actor(r), chi.URLParam(r, "billNo"), lines)
	if err != nil {
		h.fail(w, "update bill lines", err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) shift(w http.ResponseWriter, r *http.Request) {
	var req shiftRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ShiftBillToTable(r.Context(), httpx.Actor(r), chi.URLParam(r, "billNo"), req.TableNo)
	if err != nil {
		h.fail(w, "shift bill", err)
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (p paymentRequest) toPayment() (Payment, error) {
	date, err := shared.ParseBusinessDate(p.Date)
	if err != nil {
		return Payment{}, err
	}
	return Payment{
		Discount:      p.Discount,
		CashReceived:  p.CashReceived,
		Mode:          p.Mode,
		BankAccountID: p.BankAccountID,
		CustomerID:    p.CustomerID,
		Date:          date,
	}, nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, result Result) {
	if result.Degraded() {
		for _, warning := range result.Warnings {
			h.logger.Warn("bill side effect degraded", slog.String("bill_no", result.Bill.BillNo), slog.String("warning", warning.String()))
		}
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
