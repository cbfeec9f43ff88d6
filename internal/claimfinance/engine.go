package claimfinance

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// Event is a requested main status move.
type Event string

const (
	// EventHold keeps the main status and only changes the finance sub-status.
	EventHold Event = "HOLD"
	// EventAdvance moves exactly one step forward.
	EventAdvance Event = "ADVANCE"
	// EventEvidenceAttached is the forced move triggered by proof of payment.
	EventEvidenceAttached Event = "EVIDENCE_ATTACHED"
)

type transitionKey struct {
	from  MainStatus
	event Event
}

// transitions never map a status to an earlier one.
var transitions = buildTransitions()

func buildTransitions() map[transitionKey]MainStatus {
	t := make(map[transitionKey]MainStatus)
	evidenceIdx := MainStatusPendingAllocation.Index()
	for i, s := range MainStatuses {
		t[transitionKey{s, EventHold}] = s
		if i+1 < len(MainStatuses) {
			t[transitionKey{s, EventAdvance}] = MainStatuses[i+1]
		}
		if i < evidenceIdx {
			t[transitionKey{s, EventEvidenceAttached}] = MainStatusPendingAllocation
		} else {
			t[transitionKey{s, EventEvidenceAttached}] = s
		}
	}
	return t
}

// Next returns the status reached from "from" on event.
func Next(from MainStatus, event Event) (MainStatus, bool) {
	to, ok := transitions[transitionKey{from, event}]
	return to, ok
}

// eventFor finds the event that moves from → to, if any.
func eventFor(from, to MainStatus) (Event, bool) {
	for _, e := range []Event{EventHold, EventAdvance} {
		if next, ok := Next(from, e); ok && next == to {
			return e, true
		}
	}
	return "", false
}

// ChangeRequest is a validated finance status change.
type ChangeRequest struct {
	FinanceStatus FinanceStatus
	MainStatus    MainStatus
	Comment       string
	Actor         string
	At            time.Time
}

// ChangeFinanceStatus validates req against the document's current state and,
// on success, updates both statuses together and returns the audit record.
// The document is left untouched on error.
func ChangeFinanceStatus(doc *ClaimDocument, req ChangeRequest) (*StatusTransition, error) {
	comment := strings.TrimSpace(req.Comment)
	if req.FinanceStatus.CommentRequired() && comment == "" {
		return nil, errors.InvalidInput("comment",
			"a comment is required for finance status '"+req.FinanceStatus.Name+"'")
	}
	if !req.MainStatus.Valid() {
		return nil, errors.InvalidInput("mainStatus", "unknown main status '"+string(req.MainStatus)+"'")
	}
	if _, ok := eventFor(doc.MainStatus, req.MainStatus); !ok {
		return nil, errors.IllegalTransition(string(doc.MainStatus), string(req.MainStatus))
	}
	if parent := req.FinanceStatus.MainStatus; parent != nil && *parent != req.MainStatus {
		return nil, errors.InvalidInput("financeStatusId",
			"finance status '"+req.FinanceStatus.Name+"' belongs to main status '"+string(*parent)+"'")
	}

	rec := &StatusTransition{
		DocumentID:          doc.ID,
		Reason:              ReasonFinanceStatusChange,
		FromMainStatus:      doc.MainStatus,
		ToMainStatus:        req.MainStatus,
		FromFinanceStatusID: doc.FinanceStatusID(),
		PerformedBy:         req.Actor,
		PerformedAt:         req.At,
	}
	fs := req.FinanceStatus
	doc.MainStatus = req.MainStatus
	doc.FinanceStatus = &fs
	if comment != "" {
		doc.FinanceComment = &comment
		rec.Comment = &comment
	} else {
		doc.FinanceComment = nil
	}
	doc.UpdatedAt = req.At
	rec.ToFinanceStatusID = doc.FinanceStatusID()
	return rec, nil
}

// AttachProofOfPayment appends the evidence file and applies the forced
// evidence-attached move. A document already at or past that stage keeps its
// statuses. The returned record describes the move, which may be a no-op.
func AttachProofOfPayment(doc *ClaimDocument, evidence FinanceStatus, file *Attachment, actor string, at time.Time) *StatusTransition {
	to, _ := Next(doc.MainStatus, EventEvidenceAttached)
	rec := &StatusTransition{
		DocumentID:          doc.ID,
		Reason:              ReasonProofOfPayment,
		FromMainStatus:      doc.MainStatus,
		ToMainStatus:        to,
		FromFinanceStatusID: doc.FinanceStatusID(),
		PerformedBy:         actor,
		PerformedAt:         at,
	}

	file.DocumentID = doc.ID
	doc.Attachments = append(doc.Attachments, file)
	if to != doc.MainStatus {
		fs := evidence
		doc.MainStatus = to
		doc.FinanceStatus = &fs
		doc.FinanceComment = nil
	}
	doc.UpdatedAt = at
	rec.ToFinanceStatusID = doc.FinanceStatusID()
	return rec
}

// NewClaimDocument creates a document at the first main status.
func NewClaimDocument(id string, attrs Attributes, createdBy string, now time.Time) *ClaimDocument {
	return &ClaimDocument{
		ID:          id,
		Attributes:  attrs,
		MainStatus:  MainStatusPendingPayment,
		Attachments: []*Attachment{},
		Version:     1,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
