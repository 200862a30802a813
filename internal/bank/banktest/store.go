// Package banktest provides an in-memory bank ledger for tests of packages
// that post bank entries inside their own transactions.
package banktest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// State holds ledger rows and implements bank.TxRepository.
type State struct {
	Accounts      map[int64]bank.Account
	Entries       map[int64]bank.Entry
	nextAccountID int64
	nextEntryID   int64
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{Accounts: map[int64]bank.Account{}, Entries: map[int64]bank.Entry{}}
}

// Clone copies the ledger so a failed transaction can be discarded.
func (s *State) Clone() *State {
	out := &State{
		Accounts:      make(map[int64]bank.Account, len(s.Accounts)),
		Entries:       make(map[int64]bank.Entry, len(s.Entries)),
		nextAccountID: s.nextAccountID,
		nextEntryID:   s.nextEntryID,
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.Entries {
		out.Entries[k] = v
	}
	return out
}

// AddAccount seeds an active account with a zero balance.
func (s *State) AddAccount(name string) int64 {
	s.nextAccountID++
	id := s.nextAccountID
	s.Accounts[id] = bank.Account{ID: id, Name: name, Balance: decimal.Zero, Status: bank.StatusActive, Version: 1}
	return id
}

// AccountEntries returns the account's entries in posting order.
func (s *State) AccountEntries(accountID int64) []bank.Entry {
	out := []bank.Entry{}
	for _, e := range s.Entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) GetAccountForUpdate(_ context.Context, id int64) (bank.Account, error) {
	acc, ok := s.Accounts[id]
	if !ok {
		return bank.Account{}, bank.ErrAccountNotFound
	}
	return acc, nil
}

func (s *State) UpdateAccountBalance(_ context.Context, account bank.Account) error {
	current, ok := s.Accounts[account.ID]
	if !ok {
		return bank.ErrAccountNotFound
	}
	if current.Version != account.Version {
		return fmt.Errorf("bank: account %d: %w", account.ID, shared.ErrConcurrentUpdate)
	}
	current.Balance = account.Balance
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	s.Accounts[account.ID] = current
	return nil
}

func (s *State) InsertEntry(_ context.Context, entry bank.Entry) (int64, error) {
	s.nextEntryID++
	entry.ID = s.nextEntryID
	s.Entries[entry.ID] = entry
	return entry.ID, nil
}

func (s *State) GetEntryForUpdate(_ context.Context, id int64) (bank.Entry, error) {
	e, ok := s.Entries[id]
	if !ok {
		return bank.Entry{}, bank.ErrEntryNotFound
	}
	return e, nil
}

func (s *State) DeleteEntry(_ context.Context, id int64) error {
	if _, ok := s.Entries[id]; !ok {
		return bank.ErrEntryNotFound
	}
	delete(s.Entries, id)
	return nil
}

func (s *State) ListEntriesAfter(_ context.Context, accountID, afterID int64) ([]bank.Entry, error) {
	out := []bank.Entry{}
	for _, e := range s.AccountEntries(accountID) {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *State) UpdateEntryBalanceAfter(_ context.Context, id int64, balance decimal.Decimal) error {
	e, ok := s.Entries[id]
	if !ok {
		return bank.ErrEntryNotFound
	}
	e.BalanceAfter = balance
	s.Entries[id] = e
	return nil
}

// Store is an in-memory bank.RepositoryPort with copy-on-write transactions.
type Store struct {
	mu    sync.Mutex
	state *State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{state: NewState()}
}

// State exposes the committed ledger for assertions.
func (s *Store) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, bank.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.Clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetAccountForUpdate(ctx, id)
}

func (s *Store) ListAccounts(context.Context) ([]bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bank.Account, 0, len(s.state.Accounts))
	for _, acc := range s.state.Accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListEntries(_ context.Context, filter bank.EntryFilter) ([]bank.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []bank.Entry{}
	ids := make([]int64, 0, len(s.state.Entries))
	for id := range s.state.Entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := s.state.Entries[id]
		if filter.AccountID != 0 && e.AccountID != filter.AccountID {
			continue
		}
		if filter.RefType != "" && e.RefType != filter.RefType {
			continue
		}
		if filter.RefID != "" && e.RefID != filter.RefID {
			continue
		}
		if !filter.From.IsZero() && e.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Date.After(filter.To) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, account bank.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.state.AddAccount(account.Name)
	return id, nil
}

func (s *Store) SetAccountStatus(_ context.Context, id int64, status bank.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.state.Accounts[id]
	if !ok {
		return bank.ErrAccountNotFound
	}
	acc.Status = status
	acc.Version++
	s.state.Accounts[id] = acc
	return nil
}
