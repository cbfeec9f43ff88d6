package service

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/blob"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/client"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/logger"
)

// ClaimFinanceService runs the claim payment status engine.
type ClaimFinanceService struct {
	docs     ClaimDocumentStore
	statuses FinanceStatusStore
	blobs    blob.Store
	events   EventPublisher
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewClaimFinanceService creates a new claim finance service
func NewClaimFinanceService(
	docs ClaimDocumentStore,
	statuses FinanceStatusStore,
	blobs blob.Store,
	events EventPublisher,
	log *logger.Logger,
) *ClaimFinanceService {
	if events == nil {
		events = noopPublisher{}
	}
	return &ClaimFinanceService{
		docs:     docs,
		statuses: statuses,
		blobs:    blobs,
		events:   events,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateClaimDocumentRequest represents a create claim document request.
// FinanceStatusID optionally sets the initial finance status.
type CreateClaimDocumentRequest struct {
	Attributes      claimfinance.Attributes
	FinanceStatusID string
	Comment         string
	Actor           authz.Actor
}

// ChangeFinanceStatusRequest represents a finance status change. An empty
// MainStatus keeps the document's current main status.
type ChangeFinanceStatusRequest struct {
	DocumentID      string
	FinanceStatusID string
	MainStatus      string
	Comment         string
	Actor           authz.Actor
}

// AttachProofOfPaymentRequest represents a proof of payment upload
type AttachProofOfPaymentRequest struct {
	DocumentID string
	File       UploadFile
	Actor      authz.Actor
}

func (s *ClaimFinanceService) catalog(ctx context.Context) (*claimfinance.Catalog, error) {
	statuses, err := s.statuses.List(ctx)
	if err != nil {
		return nil, err
	}
	return claimfinance.NewCatalog(statuses), nil
}

// ListFinanceStatuses returns the finance status catalog in display order.
func (s *ClaimFinanceService) ListFinanceStatuses(ctx context.Context) ([]claimfinance.FinanceStatus, error) {
	cat, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.List(), nil
}

// CreateClaimDocument registers a claim document at PENDING_PAYMENT.
func (s *ClaimFinanceService) CreateClaimDocument(ctx context.Context, req *CreateClaimDocumentRequest) (*claimfinance.ClaimDocument, error) {
	if err := requireCapability(req.Actor, authz.ManageClaimFinance); err != nil {
		return nil, err
	}
	if err := req.Attributes.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := claimfinance.NewClaimDocument(s.newID(), req.Attributes, req.Actor.ID, now)
	initial := &claimfinance.StatusTransition{
		DocumentID:     doc.ID,
		Reason:         claimfinance.ReasonCreated,
		FromMainStatus: doc.MainStatus,
		ToMainStatus:   doc.MainStatus,
		PerformedBy:    req.Actor.ID,
		PerformedAt:    now,
	}

	if id := strings.TrimSpace(req.FinanceStatusID); id != "" {
		cat, err := s.catalog(ctx)
		if err != nil {
			return nil, err
		}
		fs, err := cat.Lookup(id)
		if err != nil {
			return nil, err
		}
		rec, err := claimfinance.ChangeFinanceStatus(doc, claimfinance.ChangeRequest{
			FinanceStatus: fs,
			MainStatus:    doc.MainStatus,
			Comment:       req.Comment,
			Actor:         req.Actor.ID,
			At:            now,
		})
		if err != nil {
			return nil, err
		}
		initial.ToFinanceStatusID = rec.ToFinanceStatusID
		initial.Comment = rec.Comment
	}
	initial.ID = s.newID()

	if err := s.docs.Create(ctx, doc, initial); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("claim_number", doc.ClaimNumber).
		Str("actor", req.Actor.ID).
		Msg("Claim document created")
	return doc, nil
}

// GetClaimDocument returns a document with its finance status and attachments.
func (s *ClaimFinanceService) GetClaimDocument(ctx context.Context, id string) (*claimfinance.ClaimDocument, error) {
	return s.docs.GetByID(ctx, id)
}

// History returns the status transitions of a document, oldest first.
func (s *ClaimFinanceService) History(ctx context.Context, id string) ([]*claimfinance.StatusTransition, error) {
	return s.docs.History(ctx, id)
}

// DeleteClaimDocument removes a document, its history and its attachments.
func (s *ClaimFinanceService) DeleteClaimDocument(ctx context.Context, id string, actor authz.Actor) error {
	if err := requireCapability(actor, authz.ManageClaimFinance); err != nil {
		return err
	}
	doc, err := s.docs.Delete(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range doc.Attachments {
		s.deleteBlob(ctx, a.StorageRef)
	}
	s.log.Info().Str("document_id", id).Str("actor", actor.ID).Msg("Claim document deleted")
	return nil
}

// ChangeFinanceStatus validates and applies a finance status change. Unknown
// status ids are NotFound, a missing required comment is a validation error and
// a backward or skipping move is an illegal transition. Both statuses change
// together or not at all.
func (s *ClaimFinanceService) ChangeFinanceStatus(ctx context.Context, req *ChangeFinanceStatusRequest) (*claimfinance.ClaimDocument, error) {
	if err := requireCapability(req.Actor, authz.ManageClaimFinance); err != nil {
		return nil, err
	}
	cat, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	fs, err := cat.Lookup(req.FinanceStatusID)
	if err != nil {
		return nil, err
	}

	var rec *claimfinance.StatusTransition
	doc, err := s.docs.Mutate(ctx, req.DocumentID, func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error) {
		target := d.MainStatus
		if strings.TrimSpace(req.MainStatus) != "" {
			target = claimfinance.MainStatus(strings.ToUpper(strings.TrimSpace(req.MainStatus)))
		}
		r, err := claimfinance.ChangeFinanceStatus(d, claimfinance.ChangeRequest{
			FinanceStatus: fs,
			MainStatus:    target,
			Comment:       req.Comment,
			Actor:         req.Actor.ID,
			At:            s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		r.ID = s.newID()
		rec = r
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("from_main_status", string(rec.FromMainStatus)).
		Str("to_main_status", string(rec.ToMainStatus)).
		Str("finance_status", fs.Name).
		Str("actor", req.Actor.ID).
		Msg("Finance status changed")

	s.publish(ctx, client.ClaimEvent(client.EventFinanceStatusChanged, doc.ID, req.Actor.ID, map[string]any{
		"from_main_status": string(rec.FromMainStatus),
		"to_main_status":   string(rec.ToMainStatus),
		"finance_status":   fs.Name,
	}))
	return doc, nil
}

// AttachProofOfPayment stores the evidence file and forces the document to the
// evidence-attached stage. The blob is removed again if the update fails.
func (s *ClaimFinanceService) AttachProofOfPayment(ctx context.Context, req *AttachProofOfPaymentRequest) (*claimfinance.ClaimDocument, error) {
	if err := requireCapability(req.Actor, authz.ManageClaimFinance); err != nil {
		return nil, err
	}
	if err := validateUpload(&req.File, "file"); err != nil {
		return nil, err
	}
	cat, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	evidence, ok := cat.ByName(claimfinance.EvidenceAttachedStatusName)
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal, "finance status catalog has no "+claimfinance.EvidenceAttachedStatusName+" entry")
	}

	var (
		ref string
		rec *claimfinance.StatusTransition
	)
	doc, err := s.docs.Mutate(ctx, req.DocumentID, func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error) {
		stored, err := s.blobs.Put(ctx, blob.ClaimFileKey(d.ID, req.File.FileName), req.File.Content, req.File.Size, req.File.ContentType)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to store proof of payment")
		}
		ref = stored

		now := s.now().UTC()
		file := &claimfinance.Attachment{
			ID:          s.newID(),
			FileName:    req.File.FileName,
			ContentType: req.File.ContentType,
			FileSize:    req.File.Size,
			StorageRef:  stored,
			UploadedBy:  req.Actor.ID,
			UploadedAt:  now,
		}
		r := claimfinance.AttachProofOfPayment(d, evidence, file, req.Actor.ID, now)
		r.ID = s.newID()
		rec = r
		return r, nil
	})
	if err != nil {
		if ref != "" {
			s.deleteBlob(ctx, ref)
		}
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("from_main_status", string(rec.FromMainStatus)).
		Str("to_main_status", string(rec.ToMainStatus)).
		Str("file_name", req.File.FileName).
		Str("actor", req.Actor.ID).
		Msg("Proof of payment attached")

	s.publish(ctx, client.ClaimEvent(client.EventProofOfPaymentAttached, doc.ID, req.Actor.ID, map[string]any{
		"from_main_status": string(rec.FromMainStatus),
		"to_main_status":   string(rec.ToMainStatus),
	}))
	return doc, nil
}

// DownloadAttachment streams a claim document attachment.
func (s *ClaimFinanceService) DownloadAttachment(ctx context.Context, documentID, attachmentID string) (*claimfinance.Attachment, io.ReadCloser, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range doc.Attachments {
		if a.ID != attachmentID {
			continue
		}
		rc, err := s.blobs.Open(ctx, a.StorageRef)
		if stderrors.Is(err, blob.ErrNotFound) {
			return nil, nil, errors.NotFound("attachment content", attachmentID)
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open attachment")
		}
		return a, rc, nil
	}
	return nil, nil, errors.NotFound("attachment", attachmentID)
}

func (s *ClaimFinanceService) publish(ctx context.Context, ev client.WorkflowEvent) {
	s.events.Publish(context.WithoutCancel(ctx), ev)
}

func (s *ClaimFinanceService) deleteBlob(ctx context.Context, ref string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.log.Warn().Err(err).Str("storage_ref", ref).Msg("Failed to delete blob (non-fatal)")
	}
}
