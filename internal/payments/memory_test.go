package payments_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank/banktest"
	"github.com/odyssey-erp/restopos/internal/payments"
	"github.com/odyssey-erp/restopos/internal/shared"
)

type payableKey struct {
	side   payments.Side
	billNo string
}

type memState struct {
	*banktest.State
	payables    map[payableKey]payments.Payable
	receipts    map[int64]payments.Receipt
	nextReceipt int64
	nextAlloc   int64
}

func (s *memState) clone() *memState {
	out := &memState{
		State:       s.State.Clone(),
		payables:    make(map[payableKey]payments.Payable, len(s.payables)),
		receipts:    make(map[int64]payments.Receipt, len(s.receipts)),
		nextReceipt: s.nextReceipt,
		nextAlloc:   s.nextAlloc,
	}
	for k, v := range s.payables {
		out.payables[k] = v
	}
	for k, v := range s.receipts {
		v.Allocations = append([]payments.Allocation(nil), v.Allocations...)
		out.receipts[k] = v
	}
	return out
}

func (s *memState) GetPayableForUpdate(_ context.Context, side payments.Side, billNo string) (payments.Payable, error) {
	p, ok := s.payables[payableKey{side, billNo}]
	if !ok {
		return payments.Payable{}, payments.ErrPayableNotFound
	}
	return p, nil
}

func (s *memState) UpdatePayable(_ context.Context, side payments.Side, p payments.Payable) error {
	key := payableKey{side, p.BillNo}
	current, ok := s.payables[key]
	if !ok {
		return payments.ErrPayableNotFound
	}
	if current.Version != p.Version {
		return fmt.Errorf("bill %s: %w", p.BillNo, shared.ErrConcurrentUpdate)
	}
	p.Version++
	s.payables[key] = p
	return nil
}

func (s *memState) InsertReceipt(_ context.Context, rc payments.Receipt) (int64, error) {
	s.nextReceipt++
	rc.ID = s.nextReceipt
	rc.Allocations = nil
	s.receipts[rc.ID] = rc
	return rc.ID, nil
}

func (s *memState) InsertAllocation(_ context.Context, a payments.Allocation) (int64, error) {
	rc, ok := s.receipts[a.ReceiptID]
	if !ok {
		return 0, payments.ErrReceiptNotFound
	}
	s.nextAlloc++
	a.ID = s.nextAlloc
	rc.Allocations = append(rc.Allocations, a)
	s.receipts[a.ReceiptID] = rc
	return a.ID, nil
}

func (s *memState) GetReceiptForUpdate(_ context.Context, id int64) (payments.Receipt, error) {
	rc, ok := s.receipts[id]
	if !ok {
		return payments.Receipt{}, payments.ErrReceiptNotFound
	}
	rc.Allocations = append([]payments.Allocation(nil), rc.Allocations...)
	return rc, nil
}

func (s *memState) DeleteReceipt(_ context.Context, id int64) error {
	if _, ok := s.receipts[id]; !ok {
		return payments.ErrReceiptNotFound
	}
	delete(s.receipts, id)
	return nil
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memState{
		State:    banktest.NewState(),
		payables: map[payableKey]payments.Payable{},
		receipts: map[int64]payments.Receipt{},
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id int64) (payments.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetReceiptForUpdate(ctx, id)
}

func (r *memoryRepo) ListReceipts(_ context.Context, filter payments.ReceiptFilter) ([]payments.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []payments.Receipt{}
	for _, rc := range r.state.receipts {
		if filter.Side != "" && rc.Side != filter.Side {
			continue
		}
		if filter.PartyID != 0 && rc.PartyID != filter.PartyID {
			continue
		}
		if filter.BillNo != "" && !allocates(rc, filter.BillNo) {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func allocates(rc payments.Receipt, billNo string) bool {
	for _, a := range rc.Allocations {
		if a.BillNo == billNo {
			return true
		}
	}
	return false
}

func (r *memoryRepo) seed(side payments.Side, billNo string, partyID int64, net, paid string, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.payables[payableKey{side, billNo}] = payments.Payable{
		BillNo:     billNo,
		PartyID:    partyID,
		NetAmount:  decimal.RequireFromString(net),
		PaidAmount: decimal.RequireFromString(paid),
		Status:     status,
		Version:    1,
	}
}

func (r *memoryRepo) payable(side payments.Side, billNo string) payments.Payable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.payables[payableKey{side, billNo}]
}

func (r *memoryRepo) ledger() *banktest.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.State
}

func (r *memoryRepo) addAccount(name string, opening int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.state.AddAccount(name)
	acc := r.state.Accounts[id]
	acc.Balance = decimal.NewFromInt(opening)
	r.state.Accounts[id] = acc
	return id
}

type idempotencyStub struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (s *idempotencyStub) CheckAndInsert(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[key] {
		return shared.ErrIdempotencyConflict
	}
	s.claimed[key] = true
	return nil
}

func (s *idempotencyStub) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, key)
	return nil
}
