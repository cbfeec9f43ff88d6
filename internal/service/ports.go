package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/client"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/repository"
)

// CaseStore is the persistence collaborator for cases.
// Mutate must serialise concurrent calls for the same id.
type CaseStore interface {
	Create(ctx context.Context, c *checklist.Case) error
	GetByID(ctx context.Context, id string) (*checklist.Case, error)
	List(ctx context.Context, filter repository.CaseFilter) ([]*checklist.Case, int64, error)
	Mutate(ctx context.Context, id string, fn func(c *checklist.Case) error) (*checklist.Case, error)
	Delete(ctx context.Context, id string) (*checklist.Case, error)
}

// ClaimDocumentStore is the persistence collaborator for claim documents.
type ClaimDocumentStore interface {
	Create(ctx context.Context, d *claimfinance.ClaimDocument, initial *claimfinance.StatusTransition) error
	GetByID(ctx context.Context, id string) (*claimfinance.ClaimDocument, error)
	Mutate(ctx context.Context, id string, fn func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error)) (*claimfinance.ClaimDocument, error)
	History(ctx context.Context, id string) ([]*claimfinance.StatusTransition, error)
	Delete(ctx context.Context, id string) (*claimfinance.ClaimDocument, error)
}

// FinanceStatusStore reads the finance status catalog.
type FinanceStatusStore interface {
	List(ctx context.Context) ([]claimfinance.FinanceStatus, error)
}

// EventPublisher delivers workflow events after commit. Implementations must not block or fail the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event client.WorkflowEvent)
}

// Upload limits per call.
const (
	MaxFilesPerUpload = 20
	MaxFileSize       = 50 << 20
)

// UploadFile is one file in an upload call.
type UploadFile struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

func validateUpload(f *UploadFile, field string) error {
	f.FileName = strings.TrimSpace(f.FileName)
	if f.FileName == "" {
		return errors.InvalidInput(field, "file name is required")
	}
	if f.Content == nil {
		return errors.InvalidInput(field, fmt.Sprintf("file '%s' has no content", f.FileName))
	}
	if f.Size < 0 || f.Size > MaxFileSize {
		return errors.InvalidInput(field, fmt.Sprintf("file '%s' exceeds the %d MiB limit", f.FileName, MaxFileSize>>20))
	}
	if strings.TrimSpace(f.ContentType) == "" {
		f.ContentType = "application/octet-stream"
	}
	return nil
}

func requireActor(actor authz.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return errors.Unauthorized("an authenticated actor is required")
	}
	return nil
}

func requireCapability(actor authz.Actor, c authz.Capability) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !authz.HasCapability(actor, c) {
		return errors.Unauthorized(fmt.Sprintf("actor '%s' lacks capability %s", actor.ID, c))
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, client.WorkflowEvent) {}
