package purchasing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/bank/banktest"
	"github.com/odyssey-erp/restopos/internal/purchasing"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
	"github.com/odyssey-erp/restopos/internal/stock/stocktest"
)

type memoryRepo struct {
	mu     sync.Mutex
	bills  map[string]purchasing.PurchaseBill
	ledger *banktest.State
	seq    int64
}

type memoryTx struct {
	*banktest.State
	repo    *memoryRepo
	pending []purchasing.PurchaseBill
}

func (t *memoryTx) NextBillNo(context.Context) (string, error) {
	t.repo.seq++
	return fmt.Sprintf("PB%06d", t.repo.seq), nil
}

func (t *memoryTx) InsertPurchaseBill(_ context.Context, bill purchasing.PurchaseBill) (int64, error) {
	bill.ID = t.repo.seq
	t.pending = append(t.pending, bill)
	return bill.ID, nil
}

func (t *memoryTx) InsertLines(_ context.Context, billID int64, lines []purchasing.Line) error {
	for i := range t.pending {
		if t.pending[i].ID == billID {
			t.pending[i].Lines = append([]purchasing.Line(nil), lines...)
		}
	}
	return nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, purchasing.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{State: r.ledger.Clone(), repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.ledger = tx.State
	for _, b := range tx.pending {
		r.bills[b.BillNo] = b
	}
	return nil
}

func (r *memoryRepo) GetPurchaseBill(_ context.Context, billNo string) (purchasing.PurchaseBill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[billNo]
	if !ok {
		return purchasing.PurchaseBill{}, purchasing.ErrBillNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListPurchaseBills(_ context.Context, filter purchasing.ListFilter) ([]purchasing.PurchaseBill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []purchasing.PurchaseBill{}
	for _, b := range r.bills {
		if filter.SupplierID != 0 && b.SupplierID != filter.SupplierID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

var storekeeper = shared.Actor{EmployeeID: 4, ShopID: 1}

func newService(t *testing.T) (*purchasing.Service, *memoryRepo, *stocktest.Store) {
	t.Helper()
	ledger := stocktest.NewStore()
	stockSvc := stock.NewService(ledger, stock.ServiceConfig{
		Catalog: stocktest.Catalog{"Milk": 1, "Napkins": 2},
		Flags:   &stocktest.Flags{Tracked: map[int64]bool{1: true, 2: false}},
	})
	repo := &memoryRepo{bills: map[string]purchasing.PurchaseBill{}, ledger: banktest.NewState()}
	return purchasing.NewService(repo, stockSvc, nil, nil, nil), repo, ledger
}

func (r *memoryRepo) addAccount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.AddAccount(name)
}

func (r *memoryRepo) entries(accountID int64) []bank.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.AccountEntries(accountID)
}

func input(paid int64) purchasing.CreateInput {
	return purchasing.CreateInput{
		SupplierID:   11,
		SupplierName: "Dairy Co",
		GST:          decimal.NewFromInt(9),
		OtherTax:     decimal.NewFromInt(1),
		PaidAmount:   decimal.NewFromInt(paid),
		Lines: []purchasing.LineInput{
			{ItemName: "Milk", Qty: 10, Rate: decimal.NewFromInt(8)},
			{ItemName: "Napkins", Qty: 2, Rate: decimal.NewFromInt(5)},
		},
	}
}

func TestStatusFor(t *testing.T) {
	net := decimal.NewFromInt(500)
	cases := []struct {
		paid string
		want purchasing.Status
	}{
		{"0", purchasing.StatusPending},
		{"-3", purchasing.StatusPending},
		{"200", purchasing.StatusPartiallyPaid},
		{"499.99", purchasing.StatusPaid},
		{"500", purchasing.StatusPaid},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, purchasing.StatusFor(net, decimal.RequireFromString(tc.paid)), tc.paid)
	}
}

func TestCreatePurchaseBillComputesNetAndReceivesStock(t *testing.T) {
	svc, _, ledger := newService(t)
	ctx := context.Background()

	result, err := svc.CreatePurchaseBill(ctx, storekeeper, input(0))
	require.NoError(t, err)
	require.Empty(t, result.Warnings)
	bill := result.Bill
	require.Equal(t, "PB000001", bill.BillNo)
	require.True(t, bill.Amount.Equal(decimal.NewFromInt(90)))
	require.True(t, bill.NetAmount.Equal(decimal.NewFromInt(100)))
	require.Equal(t, purchasing.StatusPending, bill.Status)
	require.Equal(t, 10.0, ledger.Stock("Milk"))
	require.Equal(t, 0.0, ledger.Stock("Napkins"), "untracked category")

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, stock.TypePurchase, entries[0].Type)
	require.Equal(t, bill.BillNo, entries[0].RefNo)

	stored, err := svc.GetPurchaseBill(ctx, bill.BillNo)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
}

func TestCreatePurchaseBillInitialPayment(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	accountID := repo.addAccount("Current")

	withPayment := func(paid int64) purchasing.CreateInput {
		in := input(paid)
		in.BankAccountID = accountID
		return in
	}

	partial, err := svc.CreatePurchaseBill(ctx, storekeeper, withPayment(40))
	require.NoError(t, err)
	require.Equal(t, purchasing.StatusPartiallyPaid, partial.Bill.Status)
	require.True(t, partial.Bill.Balance().Equal(decimal.NewFromInt(60)))

	paid, err := svc.CreatePurchaseBill(ctx, storekeeper, withPayment(100))
	require.NoError(t, err)
	require.Equal(t, purchasing.StatusPaid, paid.Bill.Status)

	_, err = svc.CreatePurchaseBill(ctx, storekeeper, withPayment(101))
	require.ErrorIs(t, err, purchasing.ErrOverpaid)

	bills, err := svc.ListPurchaseBills(ctx, purchasing.ListFilter{SupplierID: 11, Status: purchasing.StatusPaid})
	require.NoError(t, err)
	require.Len(t, bills, 1)

	entries := repo.entries(accountID)
	require.Len(t, entries, 2)
	require.Equal(t, bank.KindWithdraw, entries[0].Kind)
	require.Equal(t, bank.RefPurchaseBill, entries[0].RefType)
	require.Equal(t, partial.Bill.BillNo, entries[0].RefID)
	require.Equal(t, partial.Bill.BankEntryID, entries[0].ID)
	require.True(t, entries[1].Withdraw.Equal(decimal.NewFromInt(100)))
	require.True(t, entries[1].BalanceAfter.Equal(decimal.NewFromInt(-140)))
}

func TestUpfrontPaymentNeedsBankAccount(t *testing.T) {
	svc, repo, ledger := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePurchaseBill(ctx, storekeeper, input(40))
	require.ErrorIs(t, err, purchasing.ErrBankAccountRequired)

	missing := input(40)
	missing.BankAccountID = 99
	_, err = svc.CreatePurchaseBill(ctx, storekeeper, missing)
	require.ErrorIs(t, err, bank.ErrAccountNotFound)
	require.Empty(t, repo.bills, "bank failure rolls back the bill")
	require.Empty(t, ledger.Entries(), "no stock received for a rolled back bill")

	unpaid, err := svc.CreatePurchaseBill(ctx, storekeeper, input(0))
	require.NoError(t, err)
	require.Zero(t, unpaid.Bill.BankEntryID)
}

func TestCreatePurchaseBillValidation(t *testing.T) {
	svc, _, _ := newService(t)
	bad := input(0)
	bad.Lines = nil
	_, err := svc.CreatePurchaseBill(context.Background(), storekeeper, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = input(0)
	bad.Lines[0].Qty = 0
	_, err = svc.CreatePurchaseBill(context.Background(), storekeeper, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = input(0)
	bad.GST = decimal.NewFromInt(-1)
	_, err = svc.CreatePurchaseBill(context.Background(), storekeeper, bad)
	require.ErrorIs(t, err, purchasing.ErrNegativeAmount)
}

func TestStockFailureIsWarning(t *testing.T) {
	svc, repo, ledger := newService(t)
	ledger.FailNext = errors.New("stock unavailable")

	result, err := svc.CreatePurchaseBill(context.Background(), storekeeper, input(0))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, shared.WarningStockFailed, result.Warnings[0].Code)
	require.Contains(t, repo.bills, result.Bill.BillNo)
}
