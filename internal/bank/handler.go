package bank

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/platform/httpx"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Handler exposes bank ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers bank routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts/{id}", h.getAccount)
	r.Post("/accounts/{id}/status", h.setStatus)
	r.Post("/accounts/{id}/deposits", h.deposit)
	r.Post("/accounts/{id}/withdrawals", h.withdraw)
	r.Post("/accounts/{id}/replay", h.replay)
	r.Get("/accounts/{id}/entries", h.listEntries)
	r.Delete("/entries/{id}", h.deleteEntry)
}

type createAccountRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE"`
}

type entryRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Particulars string          `json:"particulars" validate:"max=255"`
	RefType     string          `json:"ref_type" validate:"omitempty,oneof=MANUAL OPENING"`
	RefID       string          `json:"ref_id" validate:"max=80"`
	Remarks     string          `json:"remarks" validate:"max=255"`
	Date        string          `json:"date"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, "list bank accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), httpx.Actor(r), CreateAccountInput{Name: req.Name, OpeningBalance: req.OpeningBalance})
	if err != nil {
		h.fail(w, "create bank account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, "get bank account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetAccountStatus(r.Context(), httpx.Actor(r), id, AccountStatus(req.Status)); err != nil {
		h.fail(w, "set bank account status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, KindDeposit)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, KindWithdraw)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, kind EntryKind) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req entryRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := shared.ParseBusinessDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := EntryInput{
		AccountID:   id,
		Amount:      req.Amount,
		Particulars: req.Particulars,
		RefType:     req.RefType,
		RefID:       req.RefID,
		Remarks:     req.Remarks,
		Date:        date,
	}
	var entry Entry
	if kind == KindDeposit {
		entry, err = h.service.Deposit(r.Context(), httpx.Actor(r), input)
	} else {
		entry, err = h.service.Withdraw(r.Context(), httpx.Actor(r), input)
	}
	if err != nil {
		h.fail(w, "post bank entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Replay(r.Context(), id)
	if err != nil {
		h.fail(w, "replay bank account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
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
	entries, err := h.service.ListEntries(r.Context(), EntryFilter{
		AccountID: id,
		RefType:   q.Get("ref_type"),
		RefID:     q.Get("ref_id"),
		From:      from,
		To:        to,
	})
	if err != nil {
		h.fail(w, "list bank entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.DeleteTransaction(r.Context(), httpx.Actor(r), id)
	if err != nil {
		h.fail(w, "delete bank entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
