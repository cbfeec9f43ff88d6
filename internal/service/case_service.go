package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-re-case-workflow/internal/approval"
	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/blob"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/client"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/logger"
	"github.com/pesio-ai/be-re-case-workflow/internal/repository"
)

// CaseService is the case lifecycle manager: it owns case creation, update and
// deletion and routes every file mutation through the approval gate.
type CaseService struct {
	cases     CaseStore
	blobs     blob.Store
	templates *checklist.Templates
	gate      *approval.Gate
	events    EventPublisher
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewCaseService creates a new case service
func NewCaseService(
	cases CaseStore,
	blobs blob.Store,
	templates *checklist.Templates,
	gate *approval.Gate,
	events EventPublisher,
	log *logger.Logger,
) *CaseService {
	if events == nil {
		events = noopPublisher{}
	}
	return &CaseService{
		cases:     cases,
		blobs:     blobs,
		templates: templates,
		gate:      gate,
		events:    events,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateCaseRequest represents a create case request
type CreateCaseRequest struct {
	Attributes   checklist.Attributes
	TemplateName string
	Actor        authz.Actor
}

// UpdateCaseRequest represents an update case request
type UpdateCaseRequest struct {
	ID              string
	Attributes      checklist.Attributes
	ExpectedVersion *int
	Actor           authz.Actor
}

// UploadFilesRequest represents an upload files request
type UploadFilesRequest struct {
	CaseID string
	ItemID string
	Files  []UploadFile
	Actor  authz.Actor
}

// DeleteFileRequest represents a delete file request. ItemID is optional.
type DeleteFileRequest struct {
	CaseID string
	ItemID string
	FileID string
	Actor  authz.Actor
}

// ApprovalRequest represents an approve, revoke or reject request
type ApprovalRequest struct {
	CaseID  string
	Comment string
	Actor   authz.Actor
}

func validateAttributes(a *checklist.Attributes) error {
	a.CaseName = strings.TrimSpace(a.CaseName)
	a.Cedant = strings.TrimSpace(a.Cedant)
	a.Reinsurer = strings.TrimSpace(a.Reinsurer)
	a.LineOfBusiness = strings.TrimSpace(a.LineOfBusiness)
	if a.CaseName == "" {
		return errors.InvalidInput("caseName", "case name is required")
	}
	if a.Cedant == "" {
		return errors.InvalidInput("cedant", "cedant is required")
	}
	return nil
}

// CreateCase instantiates a case from the resolved checklist template.
func (s *CaseService) CreateCase(ctx context.Context, req *CreateCaseRequest) (*checklist.Case, error) {
	if err := requireCapability(req.Actor, authz.ManageCases); err != nil {
		return nil, err
	}
	if err := validateAttributes(&req.Attributes); err != nil {
		return nil, err
	}
	tpl, err := s.templates.Resolve(req.TemplateName, req.Attributes.LineOfBusiness)
	if err != nil {
		return nil, err
	}

	c := checklist.NewCase(s.newID(), tpl, req.Attributes, req.Actor.ID, s.now().UTC(), s.newID)
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", c.ID).
		Str("template", c.TemplateName).
		Int("items", len(c.Items)).
		Str("actor", req.Actor.ID).
		Msg("Case created")

	s.publish(ctx, client.CaseEvent(client.EventCaseCreated, c.ID, req.Actor.ID, map[string]any{
		"case_name": c.CaseName,
		"template":  c.TemplateName,
		"status":    string(c.Status),
	}))
	if c.Status == checklist.CaseStatusReady {
		s.publish(ctx, client.CaseEvent(client.EventCaseReady, c.ID, req.Actor.ID, nil))
	}
	return c, nil
}

// GetCase returns a case with its items and files.
func (s *CaseService) GetCase(ctx context.Context, id string) (*checklist.Case, error) {
	return s.cases.GetByID(ctx, id)
}

// ListCases returns a page of cases and the total match count.
func (s *CaseService) ListCases(ctx context.Context, filter repository.CaseFilter) ([]*checklist.Case, int64, error) {
	if filter.Status != "" {
		st := checklist.CaseStatus(strings.ToUpper(filter.Status))
		if st != checklist.CaseStatusPending && st != checklist.CaseStatusReady {
			return nil, 0, errors.InvalidInput("status", "status must be PENDING or READY")
		}
	}
	return s.cases.List(ctx, filter)
}

// UpdateCase replaces the descriptive attributes. The checklist is fixed at creation.
func (s *CaseService) UpdateCase(ctx context.Context, req *UpdateCaseRequest) (*checklist.Case, error) {
	if err := requireCapability(req.Actor, authz.ManageCases); err != nil {
		return nil, err
	}
	if err := validateAttributes(&req.Attributes); err != nil {
		return nil, err
	}

	c, err := s.cases.Mutate(ctx, req.ID, func(c *checklist.Case) error {
		if req.ExpectedVersion != nil && *req.ExpectedVersion != c.Version {
			return errors.Conflict(fmt.Sprintf("case '%s' is at version %d, not %d", c.ID, c.Version, *req.ExpectedVersion))
		}
		c.Attributes = req.Attributes
		c.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("case_id", c.ID).Int("version", c.Version).Str("actor", req.Actor.ID).Msg("Case updated")
	return c, nil
}

// DeleteCase removes a case with its items and files. Blob cleanup is best effort.
func (s *CaseService) DeleteCase(ctx context.Context, id string, actor authz.Actor) error {
	if err := requireCapability(actor, authz.ManageCases); err != nil {
		return err
	}
	c, err := s.cases.Delete(ctx, id)
	if err != nil {
		return err
	}

	var refs []string
	for _, it := range c.Items {
		for _, f := range it.Files {
			refs = append(refs, f.StorageRef)
		}
	}
	s.deleteBlobs(ctx, refs)

	s.log.Info().Str("case_id", id).Int("files", len(refs)).Str("actor", actor.ID).Msg("Case deleted")
	return nil
}

// UploadFiles stores files against one checklist item. The gate is checked
// against the locked case state and the call is all or nothing: when any file
// fails, none are recorded and already stored blobs are removed.
func (s *CaseService) UploadFiles(ctx context.Context, req *UploadFilesRequest) (*checklist.Case, []*checklist.ChecklistFile, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, nil, err
	}
	if len(req.Files) == 0 {
		return nil, nil, errors.InvalidInput("files", "at least one file is required")
	}
	if len(req.Files) > MaxFilesPerUpload {
		return nil, nil, errors.InvalidInput("files", fmt.Sprintf("at most %d files may be uploaded per call", MaxFilesPerUpload))
	}
	for i := range req.Files {
		if err := validateUpload(&req.Files[i], "files"); err != nil {
			return nil, nil, err
		}
	}

	var (
		stored      []string
		added       []*checklist.ChecklistFile
		wasReady    bool
		itemSection checklist.Section
	)
	c, err := s.cases.Mutate(ctx, req.CaseID, func(c *checklist.Case) error {
		item := c.Item(req.ItemID)
		if item == nil {
			return errors.NotFound("checklist item", req.ItemID)
		}
		if err := s.gate.CanMutate(c, item, approval.OpAdd, req.Actor, nil); err != nil {
			return err
		}
		wasReady = c.Status == checklist.CaseStatusReady
		itemSection = item.Section

		now := s.now().UTC()
		files := make([]*checklist.ChecklistFile, 0, len(req.Files))
		for _, in := range req.Files {
			ref, err := s.blobs.Put(ctx, blob.CaseFileKey(c.ID, item.ID, in.FileName), in.Content, in.Size, in.ContentType)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to store file '%s'", in.FileName))
			}
			stored = append(stored, ref)
			files = append(files, &checklist.ChecklistFile{
				ID:          s.newID(),
				FileName:    in.FileName,
				ContentType: in.ContentType,
				FileSize:    in.Size,
				StorageRef:  ref,
				UploadedBy:  req.Actor.ID,
				UploadedAt:  now,
			})
		}
		if err := c.AddFiles(item.ID, files); err != nil {
			return err
		}
		c.Recompute()
		c.UpdatedAt = now
		added = files
		return nil
	})
	if err != nil {
		s.deleteBlobs(ctx, stored)
		return nil, nil, err
	}

	s.log.Info().
		Str("case_id", c.ID).
		Str("item_id", req.ItemID).
		Str("section", string(itemSection)).
		Int("files", len(added)).
		Str("status", string(c.Status)).
		Str("actor", req.Actor.ID).
		Msg("Files uploaded")

	if !wasReady && c.Status == checklist.CaseStatusReady {
		s.publish(ctx, client.CaseEvent(client.EventCaseReady, c.ID, req.Actor.ID, nil))
	}
	return c, added, nil
}

// DeleteFile removes one file after the gate allows it.
func (s *CaseService) DeleteFile(ctx context.Context, req *DeleteFileRequest) (*checklist.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}

	var removed *checklist.ChecklistFile
	c, err := s.cases.Mutate(ctx, req.CaseID, func(c *checklist.Case) error {
		var item *checklist.ChecklistItem
		if req.ItemID != "" {
			if item = c.Item(req.ItemID); item == nil {
				return errors.NotFound("checklist item", req.ItemID)
			}
		} else {
			item, _ = c.FindFile(req.FileID)
			if item == nil {
				return errors.NotFound("checklist file", req.FileID)
			}
		}
		file := item.File(req.FileID)
		if file == nil {
			return errors.NotFound("checklist file", req.FileID)
		}
		if err := s.gate.CanMutate(c, item, approval.OpDelete, req.Actor, file); err != nil {
			return err
		}
		f, err := c.RemoveFile(item.ID, file.ID)
		if err != nil {
			return err
		}
		c.Recompute()
		c.UpdatedAt = s.now().UTC()
		removed = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deleteBlobs(ctx, []string{removed.StorageRef})
	s.log.Info().
		Str("case_id", c.ID).
		Str("item_id", removed.ItemID).
		Str("file_id", removed.ID).
		Str("status", string(c.Status)).
		Str("actor", req.Actor.ID).
		Msg("File deleted")
	return c, nil
}

// DownloadFile returns the file metadata and a stream of its contents. The caller closes the stream.
func (s *CaseService) DownloadFile(ctx context.Context, caseID, fileID string) (*checklist.ChecklistFile, io.ReadCloser, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	_, file := c.FindFile(fileID)
	if file == nil {
		return nil, nil, errors.NotFound("checklist file", fileID)
	}
	rc, err := s.blobs.Open(ctx, file.StorageRef)
	if stderrors.Is(err, blob.ErrNotFound) {
		return nil, nil, errors.NotFound("file content", fileID)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open file")
	}
	return file, rc, nil
}

// ApproveOperations moves operations approval to APPROVED and unlocks the finance section.
func (s *CaseService) ApproveOperations(ctx context.Context, req *ApprovalRequest) (*checklist.Case, error) {
	return s.transition(ctx, req, approval.EventApprove, client.EventOperationsApproved, "Operations approved")
}

// RevokeApproval moves operations approval back to PENDING and locks the finance section again.
func (s *CaseService) RevokeApproval(ctx context.Context, req *ApprovalRequest) (*checklist.Case, error) {
	return s.transition(ctx, req, approval.EventRevoke, client.EventOperationsRevoked, "Operations approval revoked")
}

// RejectOperations moves operations approval to REJECTED.
func (s *CaseService) RejectOperations(ctx context.Context, req *ApprovalRequest) (*checklist.Case, error) {
	return s.transition(ctx, req, approval.EventReject, client.EventOperationsRejected, "Operations rejected")
}

func (s *CaseService) transition(ctx context.Context, req *ApprovalRequest, event approval.Event, eventType, message string) (*checklist.Case, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	c, err := s.cases.Mutate(ctx, req.CaseID, func(c *checklist.Case) error {
		if err := s.gate.Transition(c, event, approval.Request{Actor: req.Actor, Comment: req.Comment}); err != nil {
			return err
		}
		c.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", c.ID).
		Str("approval_status", string(c.OperationsApprovalStatus)).
		Str("actor", req.Actor.ID).
		Msg(message)

	payload := map[string]any{"approval_status": string(c.OperationsApprovalStatus)}
	if c.ApprovalComment != nil {
		payload["comment"] = *c.ApprovalComment
	}
	s.publish(ctx, client.CaseEvent(eventType, c.ID, req.Actor.ID, payload))
	return c, nil
}

func (s *CaseService) publish(ctx context.Context, ev client.WorkflowEvent) {
	s.events.Publish(context.WithoutCancel(ctx), ev)
}

// deleteBlobs removes blobs that are no longer referenced. Failures are logged only.
func (s *CaseService) deleteBlobs(ctx context.Context, refs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.log.Warn().Err(err).Str("storage_ref", ref).Msg("Failed to delete blob (non-fatal)")
		}
	}
}
