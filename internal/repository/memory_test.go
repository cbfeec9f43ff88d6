package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

func newTestCase(id, cedant string, created time.Time) *checklist.Case {
	n := 0
	tpl := checklist.Template{Name: "t", Items: []checklist.TemplateItem{
		{Document: "Slip", Section: checklist.SectionOperations, Required: true},
	}}
	return checklist.NewCase(id, tpl, checklist.Attributes{CaseName: id, Cedant: cedant, LineOfBusiness: "Property"}, "u", created,
		func() string { n++; return fmt.Sprintf("%s-item-%d", id, n) })
}

func TestMemoryCaseRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCaseRepository()
	c := newTestCase("c1", "Acme", time.Now())
	if err := repo.Create(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.CaseName = "mutated after create"

	got, err := repo.GetByID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CaseName != "c1" {
		t.Errorf("store shares memory with caller: %q", got.CaseName)
	}
	got.Items[0].Files = append(got.Items[0].Files, &checklist.ChecklistFile{ID: "x"})
	again, _ := repo.GetByID(ctx, "c1")
	if len(again.Items[0].Files) != 0 {
		t.Error("store shares item files with caller")
	}

	if err := repo.Create(ctx, newTestCase("c1", "Acme", time.Now())); !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("expected Conflict on duplicate id, got %v", err)
	}
}

func TestMemoryCaseRepositoryMutate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCaseRepository()
	_ = repo.Create(ctx, newTestCase("c1", "Acme", time.Now()))

	updated, err := repo.Mutate(ctx, "c1", func(c *checklist.Case) error {
		c.Reinsurer = "Re AG"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 || updated.Reinsurer != "Re AG" {
		t.Errorf("unexpected result %+v", updated)
	}

	_, err = repo.Mutate(ctx, "c1", func(c *checklist.Case) error {
		c.Reinsurer = "discarded"
		return errors.InvalidInput("x", "nope")
	})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("fn error must pass through, got %v", err)
	}
	got, _ := repo.GetByID(ctx, "c1")
	if got.Reinsurer != "Re AG" || got.Version != 2 {
		t.Errorf("failed mutation leaked: %+v", got)
	}

	if _, err := repo.Mutate(ctx, "missing", func(*checklist.Case) error { return nil }); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestMemoryCaseRepositoryMutateSerialises(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCaseRepository()
	_ = repo.Create(ctx, newTestCase("c1", "Acme", time.Now()))

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Mutate(ctx, "c1", func(c *checklist.Case) error {
				return c.AddFiles(c.Items[0].ID, []*checklist.ChecklistFile{{ID: fmt.Sprintf("f%d", i)}})
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := repo.GetByID(ctx, "c1")
	if len(got.Items[0].Files) != workers {
		t.Errorf("lost updates: %d files, want %d", len(got.Items[0].Files), workers)
	}
	if got.Version != workers+1 {
		t.Errorf("version = %d, want %d", got.Version, workers+1)
	}
}

func TestMemoryCaseRepositoryListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCaseRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Create(ctx, newTestCase("a", "Acme Insurance", base))
	_ = repo.Create(ctx, newTestCase("b", "Beta Mutual", base.Add(time.Hour)))
	_ = repo.Create(ctx, newTestCase("c", "Acme Re", base.Add(2*time.Hour)))

	cases, total, err := repo.List(ctx, CaseFilter{Cedant: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(cases) != 2 || cases[0].ID != "c" {
		t.Errorf("unexpected list result total=%d %v", total, ids(cases))
	}

	page, total, _ := repo.List(ctx, CaseFilter{Limit: 1, Offset: 1})
	if total != 3 || len(page) != 1 || page[0].ID != "b" {
		t.Errorf("unexpected page total=%d %v", total, ids(page))
	}

	deleted, err := repo.Delete(ctx, "a")
	if err != nil || deleted.ID != "a" {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "a"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("deleted case still present: %v", err)
	}
}

func ids(cases []*checklist.Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.ID
	}
	return out
}

func TestMemoryClaimDocumentRepositoryHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryClaimDocumentRepository()
	now := time.Now().UTC()
	doc := claimfinance.NewClaimDocument("d1", claimfinance.Attributes{ClaimNumber: "CL"}, "u", now)
	initial := &claimfinance.StatusTransition{ID: "t0", DocumentID: "d1", Reason: claimfinance.ReasonCreated}
	if err := repo.Create(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	_, err := repo.Mutate(ctx, "d1", func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error) {
		d.MainStatus = claimfinance.MainStatusProcessingPayment
		return &claimfinance.StatusTransition{ID: "t1", DocumentID: "d1", Reason: claimfinance.ReasonFinanceStatusChange}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	history, err := repo.History(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID != "t0" || history[1].ID != "t1" {
		t.Errorf("unexpected history %+v", history)
	}

	if _, err := repo.Delete(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.History(ctx, "d1"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("history of deleted document should be NotFound, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	coded := errors.Unauthorized("no")
	if got := mapError(coded, "x"); got != coded {
		t.Error("coded errors must pass through unchanged")
	}
	if got := mapError(fmt.Errorf("boom"), "x"); !errors.Is(got, errors.ErrCodeInternal) {
		t.Errorf("uncoded errors must be INTERNAL, got %v", got)
	}
	for _, code := range []string{"40001", "40P01", "55P03", "23505"} {
		if got := mapError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: code}), "x"); !errors.Is(got, errors.ErrCodeConflict) {
			t.Errorf("SQLSTATE %s should map to CONFLICT, got %v", code, got)
		}
	}
	if mapError(nil, "x") != nil {
		t.Error("nil must stay nil")
	}
}

func TestKeyedMutexDropsIdleEntries(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("case-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 32 {
		t.Fatalf("counter = %d, want 32", counter)
	}
	if n := k.size(); n != 0 {
		t.Errorf("%d lock entries left after all callers released", n)
	}
}

func TestMemoryRepositoriesReleaseLocks(t *testing.T) {
	ctx := context.Background()
	cases := NewMemoryCaseRepository()
	docs := NewMemoryClaimDocumentRepository()
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		if err := cases.Create(ctx, newTestCase(id, "Acme", time.Now())); err != nil {
			t.Fatal(err)
		}
		if _, err := cases.Mutate(ctx, id, func(c *checklist.Case) error { return nil }); err != nil {
			t.Fatal(err)
		}
		if _, err := cases.Delete(ctx, id); err != nil {
			t.Fatal(err)
		}

		doc := claimfinance.NewClaimDocument(fmt.Sprintf("d%d", i), claimfinance.Attributes{
			ClaimNumber: "CL", ContractNumber: "CT", UnderwritingYear: 2025,
		}, "u", time.Now())
		if err := docs.Create(ctx, doc, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := docs.Delete(ctx, doc.ID); err != nil {
			t.Fatal(err)
		}
	}
	if n := cases.locks.size(); n != 0 {
		t.Errorf("case repository holds %d lock entries", n)
	}
	if n := docs.locks.size(); n != 0 {
		t.Errorf("claim repository holds %d lock entries", n)
	}
}
