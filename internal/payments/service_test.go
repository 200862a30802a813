package payments_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/billing"
	"github.com/odyssey-erp/restopos/internal/payments"
	"github.com/odyssey-erp/restopos/internal/purchasing"
	"github.com/odyssey-erp/restopos/internal/shared"
)

const supplierID = int64(21)

var cashier = shared.Actor{EmployeeID: 2, ShopID: 1}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func supplierPayment(accountID int64, total string, allocations ...payments.AllocationInput) payments.GroupedPaymentInput {
	return payments.GroupedPaymentInput{
		Side:          payments.SideSupplier,
		PartyID:       supplierID,
		PartyName:     "Fresh Farms",
		BankAccountID: accountID,
		Total:         dec(total),
		Mode:          "NEFT",
		Allocations:   allocations,
	}
}

func seedSupplierBills(repo *memoryRepo) {
	repo.seed(payments.SideSupplier, "PB-A", supplierID, "300", "0", string(purchasing.StatusPending))
	repo.seed(payments.SideSupplier, "PB-B", supplierID, "500", "0", string(purchasing.StatusPending))
}

func TestGroupedSupplierPaymentAllocatesAcrossBills(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	svc := payments.NewService(repo, payments.ServiceConfig{})

	receipt, err := svc.RecordGroupedPayment(context.Background(), cashier, supplierPayment(accountID, "500",
		payments.AllocationInput{BillNo: "PB-A", Amount: dec("300")},
		payments.AllocationInput{BillNo: "PB-B", Amount: dec("200")},
	))
	require.NoError(t, err)
	require.Len(t, receipt.Allocations, 2)
	require.Equal(t, 2, receipt.BillsCount)
	require.NotEmpty(t, receipt.ReceiptNo)

	a := repo.payable(payments.SideSupplier, "PB-A")
	b := repo.payable(payments.SideSupplier, "PB-B")
	require.Equal(t, string(purchasing.StatusPaid), a.Status)
	require.True(t, a.PaidAmount.Equal(dec("300")))
	require.Equal(t, string(purchasing.StatusPartiallyPaid), b.Status)
	require.True(t, b.PaidAmount.Equal(dec("200")))

	ledger := repo.ledger()
	entries := ledger.AccountEntries(accountID)
	require.Len(t, entries, 1)
	require.Equal(t, bank.KindWithdraw, entries[0].Kind)
	require.True(t, entries[0].Withdraw.Equal(dec("500")))
	require.Equal(t, bank.RefPaymentReceipt, entries[0].RefType)
	require.Equal(t, receipt.ReceiptNo, entries[0].RefID)
	require.Equal(t, receipt.BankEntryID, entries[0].ID)
	require.True(t, ledger.Accounts[accountID].Balance.Equal(dec("500")))

	sum := decimal.Zero
	for _, alloc := range receipt.Allocations {
		sum = sum.Add(alloc.Amount)
	}
	require.True(t, shared.AmountsMatch(sum, receipt.Total))
}

func TestDeleteReceiptRestoresBillsAndBank(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	svc := payments.NewService(repo, payments.ServiceConfig{})
	ctx := context.Background()

	receipt, err := svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "500",
		payments.AllocationInput{BillNo: "PB-A", Amount: dec("300")},
		payments.AllocationInput{BillNo: "PB-B", Amount: dec("200")},
	))
	require.NoError(t, err)

	// PB-B's paid amount was corrected by hand after the receipt; reversal floors at zero.
	repo.mu.Lock()
	b := repo.state.payables[payableKey{payments.SideSupplier, "PB-B"}]
	b.PaidAmount = dec("0")
	repo.state.payables[payableKey{payments.SideSupplier, "PB-B"}] = b
	repo.mu.Unlock()

	deleted, err := svc.DeleteReceipt(ctx, cashier, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, receipt.ReceiptNo, deleted.ReceiptNo)

	a := repo.payable(payments.SideSupplier, "PB-A")
	require.Equal(t, string(purchasing.StatusPending), a.Status)
	require.True(t, a.PaidAmount.IsZero())
	b = repo.payable(payments.SideSupplier, "PB-B")
	require.True(t, b.PaidAmount.IsZero())
	require.Equal(t, string(purchasing.StatusPending), b.Status)

	ledger := repo.ledger()
	require.Empty(t, ledger.AccountEntries(accountID))
	require.True(t, ledger.Accounts[accountID].Balance.Equal(dec("1000")))

	_, err = svc.GetReceipt(ctx, receipt.ID)
	require.ErrorIs(t, err, payments.ErrReceiptNotFound)
	_, err = svc.DeleteReceipt(ctx, cashier, receipt.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteReceiptReplaysLaterBankEntries(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	svc := payments.NewService(repo, payments.ServiceConfig{})
	ctx := context.Background()

	first, err := svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "100", payments.AllocationInput{BillNo: "PB-A", Amount: dec("100")}))
	require.NoError(t, err)
	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "50", payments.AllocationInput{BillNo: "PB-B", Amount: dec("50")}))
	require.NoError(t, err)

	_, err = svc.DeleteReceipt(ctx, cashier, first.ID)
	require.NoError(t, err)

	ledger := repo.ledger()
	entries := ledger.AccountEntries(accountID)
	require.Len(t, entries, 1)
	require.True(t, entries[0].BalanceAfter.Equal(dec("950")))
	require.True(t, ledger.Accounts[accountID].Balance.Equal(dec("950")))
}

func TestAllocationMismatchRejected(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	svc := payments.NewService(repo, payments.ServiceConfig{})

	_, err := svc.RecordGroupedPayment(context.Background(), cashier, supplierPayment(accountID, "500",
		payments.AllocationInput{BillNo: "PB-A", Amount: dec("300")},
		payments.AllocationInput{BillNo: "PB-B", Amount: dec("199.98")},
	))
	require.ErrorIs(t, err, payments.ErrAllocationMismatch)
	require.Empty(t, repo.ledger().AccountEntries(accountID))

	_, err = svc.RecordGroupedPayment(context.Background(), cashier, supplierPayment(accountID, "500",
		payments.AllocationInput{BillNo: "PB-A", Amount: dec("300")},
		payments.AllocationInput{BillNo: "PB-B", Amount: dec("199.995")},
	))
	require.NoError(t, err, "differences within one paisa are accepted")
}

func TestOverAllocationRollsBackEverything(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	svc := payments.NewService(repo, payments.ServiceConfig{})

	_, err := svc.RecordGroupedPayment(context.Background(), cashier, supplierPayment(accountID, "600",
		payments.AllocationInput{BillNo: "PB-B", Amount: dec("200")},
		payments.AllocationInput{BillNo: "PB-A", Amount: dec("400")},
	))
	require.ErrorIs(t, err, payments.ErrAllocationExceedsBalance)

	require.True(t, repo.payable(payments.SideSupplier, "PB-B").PaidAmount.IsZero())
	ledger := repo.ledger()
	require.Empty(t, ledger.AccountEntries(accountID))
	require.True(t, ledger.Accounts[accountID].Balance.Equal(dec("1000")))
	receipts, err := svc.ListReceipts(context.Background(), payments.ReceiptFilter{})
	require.NoError(t, err)
	require.Empty(t, receipts)
}

func TestAllocationValidation(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	repo.seed(payments.SideSupplier, "PB-X", 99, "100", "0", string(purchasing.StatusPending))
	accountID := repo.addAccount("Operating", 0)
	svc := payments.NewService(repo, payments.ServiceConfig{})
	ctx := context.Background()

	_, err := svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "100", payments.AllocationInput{BillNo: "PB-X", Amount: dec("100")}))
	require.ErrorIs(t, err, payments.ErrPartyMismatch)

	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "100", payments.AllocationInput{BillNo: "PB-Z", Amount: dec("100")}))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "0", payments.AllocationInput{BillNo: "PB-A", Amount: dec("0")}))
	require.ErrorIs(t, err, payments.ErrInvalidAmount)

	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "10"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(0, "10", payments.AllocationInput{BillNo: "PB-A", Amount: dec("10")}))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCustomerReceiptSettlesCreditBills(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(payments.SideCustomer, "B000010", 5, "120", "0", string(billing.StatusCredit))
	repo.seed(payments.SideCustomer, "B000011", 5, "80", "0", string(billing.StatusCredit))
	repo.seed(payments.SideCustomer, "B000012", 5, "50", "0", string(billing.StatusClose))
	accountID := repo.addAccount("Collections", 0)
	svc := payments.NewService(repo, payments.ServiceConfig{})
	ctx := context.Background()

	input := payments.GroupedPaymentInput{
		Side:          payments.SideCustomer,
		PartyID:       5,
		BankAccountID: accountID,
		Total:         dec("150"),
		Allocations: []payments.AllocationInput{
			{BillNo: "B000010", Amount: dec("120")},
			{BillNo: "B000011", Amount: dec("30")},
		},
	}
	receipt, err := svc.RecordGroupedPayment(ctx, cashier, input)
	require.NoError(t, err)
	require.Equal(t, string(billing.StatusPaid), repo.payable(payments.SideCustomer, "B000010").Status)
	require.Equal(t, string(billing.StatusCredit), repo.payable(payments.SideCustomer, "B000011").Status)

	entries := repo.ledger().AccountEntries(accountID)
	require.Len(t, entries, 1)
	require.Equal(t, bank.KindDeposit, entries[0].Kind)
	require.Equal(t, bank.RefSalesReceipt, entries[0].RefType)

	input.Total = dec("50")
	input.Allocations = []payments.AllocationInput{{BillNo: "B000012", Amount: dec("50")}}
	_, err = svc.RecordGroupedPayment(ctx, cashier, input)
	require.ErrorIs(t, err, payments.ErrBillNotOnCredit)

	_, err = svc.DeleteReceipt(ctx, cashier, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, string(billing.StatusCredit), repo.payable(payments.SideCustomer, "B000010").Status)
	require.True(t, repo.ledger().Accounts[accountID].Balance.IsZero())

	listed, err := svc.ListReceipts(ctx, payments.ReceiptFilter{Side: "VENDOR"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Nil(t, listed)
}

func TestIdempotencyKeyRejectsReplayAndReleasesOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	keys := &idempotencyStub{claimed: map[string]bool{}}
	svc := payments.NewService(repo, payments.ServiceConfig{Idempotency: keys})
	ctx := context.Background()

	bad := supplierPayment(accountID, "900", payments.AllocationInput{BillNo: "PB-A", Amount: dec("900")})
	bad.IdempotencyKey = "req-1"
	_, err := svc.RecordGroupedPayment(ctx, cashier, bad)
	require.ErrorIs(t, err, payments.ErrAllocationExceedsBalance)
	require.False(t, keys.claimed["req-1"])

	good := supplierPayment(accountID, "300", payments.AllocationInput{BillNo: "PB-A", Amount: dec("300")})
	good.IdempotencyKey = "req-1"
	_, err = svc.RecordGroupedPayment(ctx, cashier, good)
	require.NoError(t, err)
	_, err = svc.RecordGroupedPayment(ctx, cashier, good)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.ledger().AccountEntries(accountID), 1)
}

func TestPartyLockSerializesPayments(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	locker := shared.NewLocker(client, time.Second, nil)
	svc := payments.NewService(repo, payments.ServiceConfig{Locker: locker})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, shared.PartyLockKey(string(payments.SideSupplier), supplierID))
	require.NoError(t, err)
	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "100", payments.AllocationInput{BillNo: "PB-A", Amount: dec("100")}))
	require.ErrorIs(t, err, shared.ErrEntityLocked)
	release()

	_, err = svc.RecordGroupedPayment(ctx, cashier, supplierPayment(accountID, "100", payments.AllocationInput{BillNo: "PB-A", Amount: dec("100")}))
	require.NoError(t, err)
}

func TestCreateReceiptHandler(t *testing.T) {
	repo := newMemoryRepo()
	seedSupplierBills(repo)
	accountID := repo.addAccount("Operating", 1000)
	keys := &idempotencyStub{claimed: map[string]bool{}}
	handler := payments.NewHandler(testLogger(), payments.NewService(repo, payments.ServiceConfig{Idempotency: keys}))
	router := chi.NewRouter()
	router.Route("/api/receipts", handler.MountRoutes)

	body := `{"side":"SUPPLIER","party_id":21,"bank_account_id":` + itoa(accountID) + `,"total":"300","allocations":[{"bill_no":"PB-A","amount":"300"}]}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/receipts/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusCreated, send().Code)
	require.Equal(t, http.StatusConflict, send().Code)

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/", strings.NewReader(`{"side":"SUPPLIER"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
