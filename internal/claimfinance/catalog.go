package claimfinance

import (
	"sort"
	"strings"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// Catalog is an immutable, id-indexed view of the finance status catalog.
type Catalog struct {
	byID    map[string]FinanceStatus
	ordered []FinanceStatus
}

// NewCatalog builds a catalog ordered by position then name.
func NewCatalog(statuses []FinanceStatus) *Catalog {
	c := &Catalog{byID: make(map[string]FinanceStatus, len(statuses))}
	for _, s := range statuses {
		c.byID[s.ID] = s
		c.ordered = append(c.ordered, s)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].Position != c.ordered[j].Position {
			return c.ordered[i].Position < c.ordered[j].Position
		}
		return c.ordered[i].Name < c.ordered[j].Name
	})
	return c
}

// Lookup resolves a status id. Unknown ids are NotFound.
func (c *Catalog) Lookup(id string) (FinanceStatus, error) {
	s, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return FinanceStatus{}, errors.NotFound("finance status", id)
	}
	return s, nil
}

// ByName resolves a status by its catalog name, case-insensitively.
func (c *Catalog) ByName(name string) (FinanceStatus, bool) {
	for _, s := range c.ordered {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return FinanceStatus{}, false
}

// List returns the catalog entries in display order.
func (c *Catalog) List() []FinanceStatus {
	out := make([]FinanceStatus, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func mainStatusRef(s MainStatus) *MainStatus { return &s }

// DefaultCatalog mirrors the seed rows shipped in the database schema.
func DefaultCatalog() []FinanceStatus {
	return []FinanceStatus{
		{ID: "fs-awaiting-funds", Name: "AWAITING_FUNDS", Label: "Awaiting funds from cedant", MainStatus: mainStatusRef(MainStatusPendingPayment), Position: 10},
		{ID: "fs-awaiting-approval", Name: "AWAITING_PAYMENT_APPROVAL", Label: "Awaiting payment approval", MainStatus: mainStatusRef(MainStatusPendingPayment), Position: 20},
		{ID: "fs-payment-initiated", Name: "PAYMENT_INITIATED", Label: "Payment initiated", MainStatus: mainStatusRef(MainStatusProcessingPayment), Position: 30},
		{ID: "fs-bank-processing", Name: "BANK_PROCESSING", Label: "Processing at bank", MainStatus: mainStatusRef(MainStatusProcessingPayment), Position: 40},
		{ID: "fs-evidence-attached", Name: EvidenceAttachedStatusName, Label: "Proof of payment attached", MainStatus: mainStatusRef(MainStatusPendingAllocation), Position: 50},
		{ID: "fs-partial-allocation", Name: "PARTIAL_ALLOCATION", Label: "Partially allocated", MainStatus: mainStatusRef(MainStatusPendingAllocation), Position: 60},
		{ID: "fs-allocated", Name: "ALLOCATED", Label: "Fully allocated", MainStatus: mainStatusRef(MainStatusCompleted), Position: 70},
		{ID: "fs-other", Name: OtherStatusName, Label: "Other (comment required)", RequiresComment: true, Position: 90},
	}
}
