// Package approval implements the two-phase operations → finance gate. It is the
// only place that decides whether a checklist file may be added or deleted, and
// the only place that moves a case's operations approval status.
package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// Event is a requested approval action.
type Event string

const (
	EventApprove Event = "APPROVE"
	EventRevoke  Event = "REVOKE"
	EventReject  Event = "REJECT"
)

// Request carries the inputs guards look at.
type Request struct {
	Actor   authz.Actor
	Comment string
}

type guard func(c *checklist.Case, req Request) error

type effect func(c *checklist.Case, req Request, now time.Time)

type transitionKey struct {
	from  checklist.ApprovalStatus
	event Event
}

type transition struct {
	to     checklist.ApprovalStatus
	guards []guard
	apply  effect
}

// REJECTED has no outgoing entries: it is terminal.
var transitions = map[transitionKey]transition{
	{checklist.ApprovalPending, EventApprove}: {
		to:     checklist.ApprovalApproved,
		guards: []guard{requireReviewer, requireOperationsComplete},
		apply:  recordDecision,
	},
	{checklist.ApprovalApproved, EventRevoke}: {
		to:     checklist.ApprovalPending,
		guards: []guard{requireReviewer},
		apply:  clearDecision,
	},
	{checklist.ApprovalPending, EventReject}: {
		to:     checklist.ApprovalRejected,
		guards: []guard{requireReviewer, requireComment},
		apply:  recordDecision,
	},
}

// Operation is a file mutation kind checked by CanMutate.
type Operation string

const (
	OpAdd    Operation = "ADD"
	OpDelete Operation = "DELETE"
)

// Gate evaluates approval transitions and file mutation permissions.
type Gate struct {
	now func() time.Time
}

// NewGate creates a gate using the wall clock.
func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// NewGateWithClock creates a gate with an injected clock.
func NewGateWithClock(now func() time.Time) *Gate {
	return &Gate{now: now}
}

// Transition applies event to the case in place. The case is left untouched on error.
func (g *Gate) Transition(c *checklist.Case, event Event, req Request) error {
	from := c.OperationsApprovalStatus
	t, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return errors.IllegalTransition(string(from), string(targetOf(event)))
	}
	for _, check := range t.guards {
		if err := check(c, req); err != nil {
			return err
		}
	}
	c.OperationsApprovalStatus = t.to
	t.apply(c, req, g.now().UTC())
	return nil
}

// Approve moves PENDING → APPROVED, unlocking the finance section.
func (g *Gate) Approve(c *checklist.Case, actor authz.Actor, comment string) error {
	return g.Transition(c, EventApprove, Request{Actor: actor, Comment: comment})
}

// Revoke moves APPROVED → PENDING. Existing finance files stay; further changes are blocked.
func (g *Gate) Revoke(c *checklist.Case, actor authz.Actor) error {
	return g.Transition(c, EventRevoke, Request{Actor: actor})
}

// Reject moves PENDING → REJECTED.
func (g *Gate) Reject(c *checklist.Case, actor authz.Actor, comment string) error {
	return g.Transition(c, EventReject, Request{Actor: actor, Comment: comment})
}

// CanMutate decides whether actor may perform op on item. It must be called
// against the case state loaded under the mutation lock, never a cached copy.
// file is required for OpDelete.
func (g *Gate) CanMutate(c *checklist.Case, item *checklist.ChecklistItem, op Operation, actor authz.Actor, file *checklist.ChecklistFile) error {
	switch item.Section {
	case checklist.SectionFinance:
		if c.OperationsApprovalStatus != checklist.ApprovalApproved {
			return errors.Unauthorized(fmt.Sprintf(
				"finance documents are locked until operations are approved (current: %s)", c.OperationsApprovalStatus))
		}
		return nil
	case checklist.SectionOperations:
		if op == OpAdd {
			return nil
		}
		if file == nil {
			return errors.New(errors.ErrCodeInternal, "delete check requires the target file")
		}
		if actor.ID == "" || actor.ID != file.UploadedBy {
			return errors.Unauthorized("operations documents can only be deleted by the user who uploaded them")
		}
		return nil
	default:
		return errors.Unauthorized(fmt.Sprintf("unknown section %q", item.Section))
	}
}

func targetOf(e Event) checklist.ApprovalStatus {
	switch e {
	case EventApprove:
		return checklist.ApprovalApproved
	case EventReject:
		return checklist.ApprovalRejected
	default:
		return checklist.ApprovalPending
	}
}

// ── guards ───────────────────────────────────────────────────────────────────

func requireReviewer(_ *checklist.Case, req Request) error {
	if !authz.HasCapability(req.Actor, authz.ApproveOperations) {
		return errors.Unauthorized("actor lacks the operations reviewer role")
	}
	return nil
}

func requireOperationsComplete(c *checklist.Case, _ Request) error {
	if !checklist.Evaluate(c).SectionComplete[checklist.SectionOperations] {
		return errors.InvalidInput("items", "all required operations documents must be uploaded before approval")
	}
	return nil
}

func requireComment(_ *checklist.Case, req Request) error {
	if strings.TrimSpace(req.Comment) == "" {
		return errors.InvalidInput("comment", "a comment is required to reject operations")
	}
	return nil
}

// ── effects ──────────────────────────────────────────────────────────────────

func recordDecision(c *checklist.Case, req Request, now time.Time) {
	by := req.Actor.ID
	c.ApprovedBy = &by
	c.ApprovedAt = &now
	if comment := strings.TrimSpace(req.Comment); comment != "" {
		c.ApprovalComment = &comment
	} else {
		c.ApprovalComment = nil
	}
}

func clearDecision(c *checklist.Case, _ Request, _ time.Time) {
	c.ApprovedBy = nil
	c.ApprovedAt = nil
	c.ApprovalComment = nil
}
