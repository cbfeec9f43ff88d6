// Package claimfinance models claim payment documents and the dual state
// machine that moves them: an ordered main status plus a finance sub-status
// explaining why the document sits where it does.
package claimfinance

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// MainStatus is the coarse payment stage of a claim document.
type MainStatus string

const (
	MainStatusPendingPayment    MainStatus = "PENDING_PAYMENT"
	MainStatusProcessingPayment MainStatus = "PROCESSING_PAYMENT"
	MainStatusPendingAllocation MainStatus = "PENDING_ALLOCATION"
	MainStatusCompleted         MainStatus = "COMPLETED"
)

// MainStatuses lists the main statuses in their forward order.
var MainStatuses = []MainStatus{
	MainStatusPendingPayment,
	MainStatusProcessingPayment,
	MainStatusPendingAllocation,
	MainStatusCompleted,
}

// Index returns the position of s in the forward order, or -1 if unknown.
func (s MainStatus) Index() int {
	for i, m := range MainStatuses {
		if m == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known main status.
func (s MainStatus) Valid() bool {
	return s.Index() >= 0
}

// ParseMainStatus normalises and validates a main status name.
func ParseMainStatus(raw string) (MainStatus, error) {
	s := MainStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.InvalidInput("mainStatus", "unknown main status '"+raw+"'")
	}
	return s, nil
}

// OtherStatusName is the catch-all finance status that always needs a comment.
const OtherStatusName = "OTHER"

// EvidenceAttachedStatusName is the finance status set when proof of payment arrives.
const EvidenceAttachedStatusName = "PAYMENT_EVIDENCE_ATTACHED"

// FinanceStatus is one entry in the finance sub-status catalog.
type FinanceStatus struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Label           string      `json:"label"`
	RequiresComment bool        `json:"requiresComment"`
	MainStatus      *MainStatus `json:"mainStatus,omitempty"`
	Position        int         `json:"position"`
}

// CommentRequired reports whether selecting this status needs a non-empty comment.
// OTHER needs one even when the catalog flag says otherwise.
func (f FinanceStatus) CommentRequired() bool {
	return f.RequiresComment || strings.EqualFold(strings.TrimSpace(f.Name), OtherStatusName)
}

// Attributes are the business fields of a claim document.
type Attributes struct {
	ClaimNumber      string `json:"claimNumber"`
	ContractNumber   string `json:"contractNumber"`
	UnderwritingYear int    `json:"underwritingYear"`
	BrokerCedant     string `json:"brokerCedant"`
	Insured          string `json:"insured"`
	LossDate         string `json:"lossDate,omitempty"`
	SequenceNo       int    `json:"sequenceNo"`
}

// Validate checks required fields and normalises defaults.
func (a *Attributes) Validate() error {
	a.ClaimNumber = strings.TrimSpace(a.ClaimNumber)
	a.ContractNumber = strings.TrimSpace(a.ContractNumber)
	a.LossDate = strings.TrimSpace(a.LossDate)
	if a.ClaimNumber == "" {
		return errors.InvalidInput("claimNumber", "claim number is required")
	}
	if a.ContractNumber == "" {
		return errors.InvalidInput("contractNumber", "contract number is required")
	}
	if a.UnderwritingYear < 1900 || a.UnderwritingYear > 2200 {
		return errors.InvalidInput("underwritingYear", "underwriting year is out of range")
	}
	if a.LossDate != "" {
		if _, err := time.Parse(time.DateOnly, a.LossDate); err != nil {
			return errors.InvalidInput("lossDate", "loss date must be formatted as YYYY-MM-DD")
		}
	}
	if a.SequenceNo == 0 {
		a.SequenceNo = 1
	}
	if a.SequenceNo < 0 {
		return errors.InvalidInput("sequenceNo", "sequence number must be positive")
	}
	return nil
}

// Attachment is a file attached to a claim document, such as proof of payment.
type Attachment struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	FileSize    int64     `json:"fileSize"`
	StorageRef  string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// ClaimDocument is the aggregate root of the finance workflow.
type ClaimDocument struct {
	ID string `json:"id"`
	Attributes
	MainStatus     MainStatus     `json:"mainStatus"`
	FinanceStatus  *FinanceStatus `json:"financeStatus,omitempty"`
	FinanceComment *string        `json:"financeComment,omitempty"`
	Attachments    []*Attachment  `json:"attachments"`
	Version        int            `json:"version"`
	CreatedBy      string         `json:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// FinanceStatusID returns the id of the current finance status, or nil.
func (d *ClaimDocument) FinanceStatusID() *string {
	if d.FinanceStatus == nil {
		return nil
	}
	id := d.FinanceStatus.ID
	return &id
}

// Clone returns a deep copy of the document.
func (d *ClaimDocument) Clone() *ClaimDocument {
	if d == nil {
		return nil
	}
	cp := *d
	if d.FinanceStatus != nil {
		fs := *d.FinanceStatus
		if fs.MainStatus != nil {
			ms := *fs.MainStatus
			fs.MainStatus = &ms
		}
		cp.FinanceStatus = &fs
	}
	if d.FinanceComment != nil {
		c := *d.FinanceComment
		cp.FinanceComment = &c
	}
	cp.Attachments = make([]*Attachment, len(d.Attachments))
	for i, a := range d.Attachments {
		ac := *a
		cp.Attachments[i] = &ac
	}
	return &cp
}

// TransitionReason says which command produced a status transition record.
type TransitionReason string

const (
	ReasonCreated             TransitionReason = "CREATED"
	ReasonFinanceStatusChange TransitionReason = "FINANCE_STATUS_CHANGE"
	ReasonProofOfPayment      TransitionReason = "PROOF_OF_PAYMENT"
)

// StatusTransition is one audit record in a document's history.
type StatusTransition struct {
	ID                  string           `json:"id"`
	DocumentID          string           `json:"documentId"`
	Reason              TransitionReason `json:"reason"`
	FromMainStatus      MainStatus       `json:"fromMainStatus"`
	ToMainStatus        MainStatus       `json:"toMainStatus"`
	FromFinanceStatusID *string          `json:"fromFinanceStatusId,omitempty"`
	ToFinanceStatusID   *string          `json:"toFinanceStatusId,omitempty"`
	Comment             *string          `json:"comment,omitempty"`
	PerformedBy         string           `json:"performedBy"`
	PerformedAt         time.Time        `json:"performedAt"`
}
