package billing_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/bank/banktest"
	"github.com/odyssey-erp/restopos/internal/billing"
	"github.com/odyssey-erp/restopos/internal/shared"
)

type memState struct {
	*banktest.State
	drafts    map[int64]billing.DraftLine
	bills     map[string]billing.Bill
	lines     map[string][]billing.BillLine
	nextDraft int64
	nextBill  int64
}

func newMemState() *memState {
	return &memState{
		State:  banktest.NewState(),
		drafts: map[int64]billing.DraftLine{},
		bills:  map[string]billing.Bill{},
		lines:  map[string][]billing.BillLine{},
	}
}

func (s *memState) clone() *memState {
	out := &memState{
		State:     s.State.Clone(),
		drafts:    make(map[int64]billing.DraftLine, len(s.drafts)),
		bills:     make(map[string]billing.Bill, len(s.bills)),
		lines:     make(map[string][]billing.BillLine, len(s.lines)),
		nextDraft: s.nextDraft,
		nextBill:  s.nextBill,
	}
	for k, v := range s.drafts {
		out.drafts[k] = v
	}
	for k, v := range s.bills {
		out.bills[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]billing.BillLine(nil), v...)
	}
	return out
}

func (s *memState) tableDrafts(tableNo string) []billing.DraftLine {
	out := []billing.DraftLine{}
	for _, d := range s.drafts {
		if d.TableNo == tableNo {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) bill(billNo string) (billing.Bill, error) {
	b, ok := s.bills[billNo]
	if !ok {
		return billing.Bill{}, billing.ErrBillNotFound
	}
	b.Lines = append([]billing.BillLine{}, s.lines[billNo]...)
	return b, nil
}

func (s *memState) openBill(tableNo string) (billing.Bill, error) {
	for no, b := range s.bills {
		if b.TableNo == tableNo && b.Status == billing.StatusClose {
			return s.bill(no)
		}
	}
	return billing.Bill{}, billing.ErrBillNotFound
}

func (s *memState) NextBillNo(context.Context) (string, error) {
	s.nextBill++
	return fmt.Sprintf("B%06d", s.nextBill), nil
}

func (s *memState) ListDraftLinesForUpdate(_ context.Context, tableNo string) ([]billing.DraftLine, error) {
	return s.tableDrafts(tableNo), nil
}

func (s *memState) GetDraftLineForUpdate(_ context.Context, tableNo, itemName string, rate decimal.Decimal) (billing.DraftLine, error) {
	for _, d := range s.tableDrafts(tableNo) {
		if d.ItemName == itemName && d.Rate.Equal(rate) {
			return d, nil
		}
	}
	return billing.DraftLine{}, billing.ErrDraftLineNotFound
}

func (s *memState) InsertDraftLine(_ context.Context, line billing.DraftLine) (int64, error) {
	s.nextDraft++
	line.ID = s.nextDraft
	s.drafts[line.ID] = line
	return line.ID, nil
}

func (s *memState) UpdateDraftLine(_ context.Context, line billing.DraftLine) error {
	if _, ok := s.drafts[line.ID]; !ok {
		return billing.ErrDraftLineNotFound
	}
	s.drafts[line.ID] = line
	return nil
}

func (s *memState) DeleteDraftLine(_ context.Context, id int64) error {
	delete(s.drafts, id)
	return nil
}

func (s *memState) DeleteDraftLines(_ context.Context, tableNo string) error {
	for id, d := range s.drafts {
		if d.TableNo == tableNo {
			delete(s.drafts, id)
		}
	}
	return nil
}

func (s *memState) MoveDraftLines(_ context.Context, fromTable, toTable string) error {
	for id, d := range s.drafts {
		if d.TableNo == fromTable {
			d.TableNo = toTable
			s.drafts[id] = d
		}
	}
	return nil
}

func (s *memState) InsertBill(_ context.Context, bill billing.Bill) error {
	if _, ok := s.bills[bill.BillNo]; ok {
		return fmt.Errorf("bill %s: %w", bill.BillNo, shared.ErrConflict)
	}
	bill.Lines = nil
	bill.Version = 1
	s.bills[bill.BillNo] = bill
	return nil
}

func (s *memState) GetBillForUpdate(_ context.Context, billNo string) (billing.Bill, error) {
	return s.bill(billNo)
}

func (s *memState) UpdateBill(_ context.Context, bill billing.Bill) error {
	current, ok := s.bills[bill.BillNo]
	if !ok {
		return billing.ErrBillNotFound
	}
	if current.Version != bill.Version {
		return fmt.Errorf("bill %s: %w", bill.BillNo, shared.ErrConcurrentUpdate)
	}
	bill.Lines = nil
	bill.Version++
	s.bills[bill.BillNo] = bill
	return nil
}

func (s *memState) ReplaceBillLines(_ context.Context, billNo string, lines []billing.BillLine) error {
	s.lines[billNo] = append([]billing.BillLine(nil), lines...)
	return nil
}

func (s *memState) DeleteBillLines(_ context.Context, billNo string) error {
	delete(s.lines, billNo)
	return nil
}

func (s *memState) FindOpenBill(_ context.Context, tableNo string) (billing.Bill, error) {
	return s.openBill(tableNo)
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemState()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, billing.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetBill(_ context.Context, billNo string) (billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.bill(billNo)
}

func (r *memoryRepo) ListBills(_ context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []billing.Bill{}
	for no := range r.state.bills {
		b, _ := r.state.bill(no)
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.TableNo != "" && b.TableNo != filter.TableNo {
			continue
		}
		if filter.CustomerID != 0 && b.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BillNo < out[j].BillNo })
	return out, nil
}

func (r *memoryRepo) ListDraftLines(_ context.Context, tableNo string) ([]billing.DraftLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.tableDrafts(tableNo), nil
}

func (r *memoryRepo) FindOpenBill(_ context.Context, tableNo string) (billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.openBill(tableNo)
}

func (r *memoryRepo) ledger() *banktest.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.State
}

func (r *memoryRepo) addAccount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.AddAccount(name)
}

// collect applies a customer receipt to a bill the way payments does.
func (r *memoryRepo) collect(billNo string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill := r.state.bills[billNo]
	bill.PaidAmount = bill.PaidAmount.Add(amount)
	bill.Status = billing.ReceivableStatus(bill.NetAmount, bill.PaidAmount)
	bill.Version++
	r.state.bills[billNo] = bill
}

// dropEntry removes a bank entry behind the bill's back.
func (r *memoryRepo) dropEntry(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := bank.Reverse(ctx, r.state, id)
	return err
}

type kitchenStub struct {
	err     error
	cleared []string
}

func (k *kitchenStub) ClearTable(_ context.Context, tableNo string) error {
	k.cleared = append(k.cleared, tableNo)
	return k.err
}
