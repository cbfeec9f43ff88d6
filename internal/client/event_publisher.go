package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Workflow event types. The NATS subject is <prefix>.<event type>.
const (
	EventCaseCreated            = "case.created"
	EventCaseReady              = "case.ready"
	EventOperationsApproved     = "case.operations_approved"
	EventOperationsRevoked      = "case.operations_revoked"
	EventOperationsRejected     = "case.operations_rejected"
	EventFinanceStatusChanged   = "claim.finance_status_changed"
	EventProofOfPaymentAttached = "claim.proof_of_payment_attached"
)

// DefaultEventSubjectPrefix is used when no prefix is configured.
const DefaultEventSubjectPrefix = "reinsurance.workflow"

const (
	resourceTypeCase          = "case"
	resourceTypeClaimDocument = "claim_document"
)

// WorkflowEvent is the JSON document published to NATS after a command commits.
type WorkflowEvent struct {
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// CaseEvent builds an event about a case.
func CaseEvent(eventType, caseID, actorID string, payload map[string]any) WorkflowEvent {
	return WorkflowEvent{
		EventType:    eventType,
		ResourceType: resourceTypeCase,
		ResourceID:   caseID,
		ActorID:      actorID,
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}
}

// ClaimEvent builds an event about a claim document.
func ClaimEvent(eventType, documentID, actorID string, payload map[string]any) WorkflowEvent {
	return WorkflowEvent{
		EventType:    eventType,
		ResourceType: resourceTypeClaimDocument,
		ResourceID:   documentID,
		ActorID:      actorID,
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}
}

// EventPublisher publishes workflow events to NATS.
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so a broker outage never fails a committed command.
type EventPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewEventPublisher creates a publisher over an existing connection. A nil
// connection yields a publisher that drops every event.
func NewEventPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *EventPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultEventSubjectPrefix
	}
	return &EventPublisher{conn: conn, prefix: prefix, log: log}
}

// ConnectEventPublisher dials NATS and keeps reconnecting in the background.
func ConnectEventPublisher(url, name, prefix string, log zerolog.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return NewEventPublisher(conn, prefix, log), nil
}

// Subject returns the subject an event type is published on.
func (p *EventPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish sends the event. Failures are logged at warn level.
func (p *EventPublisher) Publish(ctx context.Context, event WorkflowEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("events: failed to marshal event")
		return
	}

	subject := p.Subject(event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Msg("events: event published")
}

// Close drains pending messages and closes the connection.
func (p *EventPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("nats: drain failed")
	}
}
