package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// MemoryCaseRepository keeps cases in process memory. Stored values are never
// handed out; callers always receive copies.
type MemoryCaseRepository struct {
	mu    sync.RWMutex
	cases map[string]*checklist.Case
	locks *keyedMutex
}

// NewMemoryCaseRepository creates an empty in-memory case store.
func NewMemoryCaseRepository() *MemoryCaseRepository {
	return &MemoryCaseRepository{
		cases: make(map[string]*checklist.Case),
		locks: newKeyedMutex(),
	}
}

func (r *MemoryCaseRepository) Create(_ context.Context, c *checklist.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; ok {
		return errors.Conflict("case '" + c.ID + "' already exists")
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

func (r *MemoryCaseRepository) GetByID(_ context.Context, id string) (*checklist.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id)
	}
	return c.Clone(), nil
}

func (r *MemoryCaseRepository) List(_ context.Context, filter CaseFilter) ([]*checklist.Case, int64, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	r.mu.RLock()
	matched := make([]*checklist.Case, 0)
	for _, c := range r.cases {
		if filter.Status != "" && !strings.EqualFold(string(c.Status), filter.Status) {
			continue
		}
		if filter.Cedant != "" && !strings.Contains(strings.ToLower(c.Cedant), strings.ToLower(filter.Cedant)) {
			continue
		}
		if filter.LineOfBusiness != "" && !strings.EqualFold(c.LineOfBusiness, filter.LineOfBusiness) {
			continue
		}
		matched = append(matched, c.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []*checklist.Case{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *MemoryCaseRepository) Mutate(_ context.Context, id string, fn func(c *checklist.Case) error) (*checklist.Case, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.cases[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("case", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1

	r.mu.Lock()
	r.cases[id] = next.Clone()
	r.mu.Unlock()
	return next, nil
}

func (r *MemoryCaseRepository) Delete(_ context.Context, id string) (*checklist.Case, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id)
	}
	delete(r.cases, id)
	return c, nil
}

// MemoryClaimDocumentRepository keeps claim documents and history in process memory.
type MemoryClaimDocumentRepository struct {
	mu      sync.RWMutex
	docs    map[string]*claimfinance.ClaimDocument
	history map[string][]*claimfinance.StatusTransition
	locks   *keyedMutex
}

// NewMemoryClaimDocumentRepository creates an empty in-memory claim document store.
func NewMemoryClaimDocumentRepository() *MemoryClaimDocumentRepository {
	return &MemoryClaimDocumentRepository{
		docs:    make(map[string]*claimfinance.ClaimDocument),
		history: make(map[string][]*claimfinance.StatusTransition),
		locks:   newKeyedMutex(),
	}
}

func (r *MemoryClaimDocumentRepository) Create(_ context.Context, d *claimfinance.ClaimDocument, initial *claimfinance.StatusTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID]; ok {
		return errors.Conflict("claim document '" + d.ID + "' already exists")
	}
	r.docs[d.ID] = d.Clone()
	if initial != nil {
		rec := *initial
		r.history[d.ID] = append(r.history[d.ID], &rec)
	}
	return nil
}

func (r *MemoryClaimDocumentRepository) GetByID(_ context.Context, id string) (*claimfinance.ClaimDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, errors.NotFound("claim document", id)
	}
	return d.Clone(), nil
}

func (r *MemoryClaimDocumentRepository) Mutate(
	_ context.Context,
	id string,
	fn func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error),
) (*claimfinance.ClaimDocument, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("claim document", id)
	}

	next := current.Clone()
	rec, err := fn(next)
	if err != nil {
		return nil, err
	}
	next.Version = current.Version + 1

	r.mu.Lock()
	r.docs[id] = next.Clone()
	if rec != nil {
		cp := *rec
		r.history[id] = append(r.history[id], &cp)
	}
	r.mu.Unlock()
	return next, nil
}

func (r *MemoryClaimDocumentRepository) History(_ context.Context, id string) ([]*claimfinance.StatusTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.docs[id]; !ok {
		return nil, errors.NotFound("claim document", id)
	}
	out := make([]*claimfinance.StatusTransition, 0, len(r.history[id]))
	for _, t := range r.history[id] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryClaimDocumentRepository) Delete(_ context.Context, id string) (*claimfinance.ClaimDocument, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, errors.NotFound("claim document", id)
	}
	delete(r.docs, id)
	delete(r.history, id)
	return d, nil
}

// MemoryFinanceStatusRepository serves a fixed catalog.
type MemoryFinanceStatusRepository struct {
	statuses []claimfinance.FinanceStatus
}

// NewMemoryFinanceStatusRepository serves statuses, or the default catalog when none are given.
func NewMemoryFinanceStatusRepository(statuses ...claimfinance.FinanceStatus) *MemoryFinanceStatusRepository {
	if len(statuses) == 0 {
		statuses = claimfinance.DefaultCatalog()
	}
	return &MemoryFinanceStatusRepository{statuses: statuses}
}

func (r *MemoryFinanceStatusRepository) List(_ context.Context) ([]claimfinance.FinanceStatus, error) {
	return claimfinance.NewCatalog(r.statuses).List(), nil
}
