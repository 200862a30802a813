// Package stocktest provides in-memory stock ledger collaborators for tests.
package stocktest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
)

// State holds items and entries and implements stock.TxRepository.
type State struct {
	Items       map[int64]stock.Item
	Entries     []stock.Entry
	nextItemID  int64
	nextEntryID int64
}

func newState() *State {
	return &State{Items: map[int64]stock.Item{}}
}

func (s *State) clone() *State {
	out := &State{
		Items:       make(map[int64]stock.Item, len(s.Items)),
		Entries:     append([]stock.Entry(nil), s.Entries...),
		nextItemID:  s.nextItemID,
		nextEntryID: s.nextEntryID,
	}
	for k, v := range s.Items {
		out.Items[k] = v
	}
	return out
}

func (s *State) find(code, name string) (stock.Item, error) {
	if code != "" {
		for _, item := range s.Items {
			if item.ItemCode == code {
				return item, nil
			}
		}
	}
	if name != "" {
		var found *stock.Item
		for _, item := range s.Items {
			if item.ItemName == name && (found == nil || item.ID < found.ID) {
				it := item
				found = &it
			}
		}
		if found != nil {
			return *found, nil
		}
	}
	return stock.Item{}, stock.ErrItemNotFound
}

func (s *State) FindItemForUpdate(_ context.Context, code, name string) (stock.Item, error) {
	return s.find(code, name)
}

func (s *State) InsertItem(_ context.Context, item stock.Item) (int64, error) {
	s.nextItemID++
	item.ID = s.nextItemID
	s.Items[item.ID] = item
	return item.ID, nil
}

func (s *State) UpdateItemStock(_ context.Context, item stock.Item) error {
	current, ok := s.Items[item.ID]
	if !ok {
		return stock.ErrItemNotFound
	}
	if current.Version != item.Version {
		return fmt.Errorf("stock: item %d: %w", item.ID, shared.ErrConcurrentUpdate)
	}
	item.Version++
	s.Items[item.ID] = item
	return nil
}

func (s *State) InsertEntry(_ context.Context, entry stock.Entry) (int64, error) {
	s.nextEntryID++
	entry.ID = s.nextEntryID
	s.Entries = append(s.Entries, entry)
	return entry.ID, nil
}

// Store is an in-memory stock.RepositoryPort.
type Store struct {
	mu       sync.Mutex
	state    *State
	// FailNext makes the next transaction fail with this error.
	FailNext error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Stock returns the current stock of the named item, zero when unknown.
func (s *Store) Stock(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.state.find("", name)
	if err != nil {
		return 0
	}
	return item.Stock
}

// Entries returns a copy of the committed entries.
func (s *Store) Entries() []stock.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stock.Entry(nil), s.state.Entries...)
}

// Corrupt overwrites an item's stock, bypassing the ledger.
func (s *Store) Corrupt(itemID int64, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.state.Items[itemID]
	item.Stock = value
	s.state.Items[itemID] = item
}

func (s *Store) FindItem(_ context.Context, code, name string) (stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.find(code, name)
}

func (s *Store) GetItem(_ context.Context, id int64) (stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.state.Items[id]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return item, nil
}

func (s *Store) ListItemIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.state.Items))
	for id := range s.state.Items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ListLowStock(_ context.Context, threshold float64) ([]stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []stock.Item{}
	for _, item := range s.state.Items {
		if item.Stock <= threshold {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Stock < items[j].Stock })
	return items, nil
}

func (s *Store) ListEntries(_ context.Context, filter stock.HistoryFilter) ([]stock.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []stock.Entry{}
	for _, e := range s.state.Entries {
		if filter.ItemID != 0 && e.ItemID != filter.ItemID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.RefNo != "" && e.RefNo != filter.RefNo {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Catalog maps item names to categories.
type Catalog map[string]int64

func (c Catalog) CategoryOf(_ context.Context, code, name string) (int64, error) {
	if id, ok := c[code]; ok && code != "" {
		return id, nil
	}
	if id, ok := c[name]; ok {
		return id, nil
	}
	return 0, stock.ErrCategoryUnknown
}

// Flags maps category ids to their tracked flag and counts lookups.
type Flags struct {
	mu      sync.Mutex
	Tracked map[int64]bool
	Calls   int
}

func (f *Flags) SetTracked(_ context.Context, categoryID int64, tracked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Tracked[categoryID]; !ok {
		return stock.ErrCategoryUnknown
	}
	f.Tracked[categoryID] = tracked
	return nil
}

func (f *Flags) IsTracked(_ context.Context, categoryID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	tracked, ok := f.Tracked[categoryID]
	if !ok {
		return false, stock.ErrCategoryUnknown
	}
	return tracked, nil
}
