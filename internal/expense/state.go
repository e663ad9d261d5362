package expense

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Lister fetches one page of claims.
type Lister interface {
	List(ctx context.Context, filters Filters, page Pagination) (Page, error)
}

// State is the client's view of the claim list: the active filters, the
// pages loaded so far and any records returned by commands. Rows are keyed
// by claim id, so overlapping page loads never produce duplicates and a
// command result replaces the cached copy.
type State struct {
	mu          sync.RWMutex
	source      Lister
	perPage     int
	filters     Filters
	pageInfo    PageInfo
	claims      map[int64]Claim
	order       []int64
	generation  uint64
	subscribers map[int]func()
	nextSubID   int
}

func NewState(source Lister, perPage int) *State {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return &State{
		source:      source,
		perPage:     perPage,
		claims:      make(map[int64]Claim),
		subscribers: make(map[int]func()),
	}
}

// Claims returns copies of the cached claims in display order.
func (s *State) Claims() []Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Claim, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.claims[id])
	}
	return out
}

func (s *State) Get(id int64) (Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	return c, ok
}

func (s *State) Filters() Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

func (s *State) PageInfo() PageInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageInfo
}

// SetFilters replaces the filters, drops the cached list and loads the
// first page.
func (s *State) SetFilters(ctx context.Context, f Filters) error {
	s.mu.Lock()
	s.filters = f
	s.resetLocked()
	s.mu.Unlock()
	s.notify()
	return s.LoadMore(ctx)
}

// Refresh reloads from the first page with the current filters.
func (s *State) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return s.LoadMore(ctx)
}

// LoadMore fetches the page after the last one loaded. Results of a load
// that started before the filters changed are discarded.
func (s *State) LoadMore(ctx context.Context) error {
	s.mu.RLock()
	gen := s.generation
	filters := s.filters
	info := s.pageInfo
	s.mu.RUnlock()

	if info.Page > 0 && !info.HasMore {
		return nil
	}

	page, err := s.source.List(ctx, filters, Pagination{Page: info.Page + 1, PerPage: s.perPage})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	for _, c := range page.Items {
		s.putLocked(c, false)
	}
	if page.PageInfo.Page > s.pageInfo.Page {
		s.pageInfo = page.PageInfo
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Upsert records an authoritative claim returned by the backend. A claim
// not yet listed is shown first when it matches the active filters.
func (s *State) Upsert(c *Claim) {
	if c == nil {
		return
	}
	s.mu.Lock()
	_, known := s.claims[c.ID]
	if !known && !s.filters.Matches(c) {
		s.mu.Unlock()
		return
	}
	s.putLocked(c, true)
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers fn to run after every change. The returned func
// removes it.
func (s *State) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *State) putLocked(c *Claim, front bool) {
	if _, exists := s.claims[c.ID]; !exists {
		if front {
			s.order = append([]int64{c.ID}, s.order...)
		} else {
			s.order = append(s.order, c.ID)
		}
	}
	s.claims[c.ID] = *c
}

func (s *State) resetLocked() {
	s.generation++
	s.claims = make(map[int64]Claim)
	s.order = nil
	s.pageInfo = PageInfo{}
}

func (s *State) notify() {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subscribers[id])
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

// Matches reports whether c passes the filters.
func (f Filters) Matches(c *Claim) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && c.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
		return false
	}
	if f.SubmitterID != 0 && c.SubmitterID != f.SubmitterID {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(c.Description), strings.ToLower(f.Search)) {
		return false
	}
	return true
}
