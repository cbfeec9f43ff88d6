// Package checklist holds the document collection data model: a Case owns a
// fixed, ordered set of checklist items split across the OPERATIONS and FINANCE
// sections, and each item owns the files uploaded against it.
package checklist

import (
	"time"
)

// Section is the organisational phase an item belongs to.
type Section string

const (
	SectionOperations Section = "OPERATIONS"
	SectionFinance    Section = "FINANCE"
)

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	return s == SectionOperations || s == SectionFinance
}

// CaseStatus is derived from item completion; it is never set directly.
type CaseStatus string

const (
	CaseStatusPending CaseStatus = "PENDING"
	CaseStatusReady   CaseStatus = "READY"
)

// ApprovalStatus is the operations approval state of a case.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Attributes are the descriptive, user-editable fields of a case.
type Attributes struct {
	CaseName       string `json:"caseName"`
	Cedant         string `json:"cedant"`
	Reinsurer      string `json:"reinsurer"`
	LineOfBusiness string `json:"lineOfBusiness"`
}

// Case is the aggregate root for document collection.
type Case struct {
	ID string `json:"id"`
	Attributes
	TemplateName             string           `json:"templateName"`
	Status                   CaseStatus       `json:"status"`
	OperationsApprovalStatus ApprovalStatus   `json:"operationsApprovalStatus"`
	ApprovedBy               *string          `json:"approvedBy,omitempty"`
	ApprovedAt               *time.Time       `json:"approvedAt,omitempty"`
	ApprovalComment          *string          `json:"approvalComment,omitempty"`
	Items                    []*ChecklistItem `json:"items"`
	Version                  int              `json:"version"`
	CreatedBy                string           `json:"createdBy"`
	CreatedAt                time.Time        `json:"createdAt"`
	UpdatedAt                time.Time        `json:"updatedAt"`
}

// ChecklistItem is one document slot within a case.
type ChecklistItem struct {
	ID           string           `json:"id"`
	CaseID       string           `json:"caseId"`
	DocumentName string           `json:"documentName"`
	Section      Section          `json:"section"`
	Position     int              `json:"position"`
	IsRequired   bool             `json:"isRequired"`
	IsCompleted  bool             `json:"isCompleted"`
	Files        []*ChecklistFile `json:"files"`
}

// ChecklistFile is the metadata of one uploaded file. Contents live in blob storage.
type ChecklistFile struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"itemId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	FileSize    int64     `json:"fileSize"`
	StorageRef  string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Item returns the item with the given id, or nil.
func (c *Case) Item(itemID string) *ChecklistItem {
	for _, it := range c.Items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// FindFile locates a file anywhere in the case.
func (c *Case) FindFile(fileID string) (*ChecklistItem, *ChecklistFile) {
	for _, it := range c.Items {
		if f := it.File(fileID); f != nil {
			return it, f
		}
	}
	return nil, nil
}

// File returns the file with the given id, or nil.
func (it *ChecklistItem) File(fileID string) *ChecklistFile {
	for _, f := range it.Files {
		if f.ID == fileID {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy so a locked snapshot can be compared with its mutation.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ApprovedBy = cloneString(c.ApprovedBy)
	cp.ApprovalComment = cloneString(c.ApprovalComment)
	if c.ApprovedAt != nil {
		t := *c.ApprovedAt
		cp.ApprovedAt = &t
	}
	cp.Items = make([]*ChecklistItem, len(c.Items))
	for i, it := range c.Items {
		itemCopy := *it
		itemCopy.Files = make([]*ChecklistFile, len(it.Files))
		for j, f := range it.Files {
			fileCopy := *f
			itemCopy.Files[j] = &fileCopy
		}
		cp.Items[i] = &itemCopy
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
