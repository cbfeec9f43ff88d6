package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/database"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// ClaimDocumentRepository stores claim documents, their attachments and status history.
type ClaimDocumentRepository struct {
	db *database.DB
}

// NewClaimDocumentRepository creates a new claim document repository
func NewClaimDocumentRepository(db *database.DB) *ClaimDocumentRepository {
	return &ClaimDocumentRepository{db: db}
}

const claimSelect = `
	SELECT d.id, d.claim_number, d.contract_number, d.underwriting_year, d.broker_cedant, d.insured,
	       COALESCE(d.loss_date::text, ''), d.sequence_no, d.main_status, d.finance_comment,
	       d.version, d.created_by, d.created_at, d.updated_at,
	       fs.id, fs.name, fs.label, fs.requires_comment, fs.main_status, fs.position
	FROM claim_documents d
	LEFT JOIN finance_statuses fs ON fs.id = d.finance_status_id`

// Create inserts a document and its initial history record.
func (r *ClaimDocumentRepository) Create(ctx context.Context, d *claimfinance.ClaimDocument, initial *claimfinance.StatusTransition) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO claim_documents (
				id, claim_number, contract_number, underwriting_year, broker_cedant, insured,
				loss_date, sequence_no, main_status, finance_status_id, finance_comment,
				version, created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::date, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			d.ID, d.ClaimNumber, d.ContractNumber, d.UnderwritingYear, d.BrokerCedant, d.Insured,
			d.LossDate, d.SequenceNo, string(d.MainStatus), d.FinanceStatusID(), d.FinanceComment,
			d.Version, d.CreatedBy, d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "failed to create claim document")
		}
		for _, a := range d.Attachments {
			if err := insertAttachment(ctx, tx, a); err != nil {
				return err
			}
		}
		if initial != nil {
			return insertTransition(ctx, tx, initial)
		}
		return nil
	})
	return mapError(err, "failed to create claim document")
}

// GetByID loads a document with its current finance status and attachments.
func (r *ClaimDocumentRepository) GetByID(ctx context.Context, id string) (*claimfinance.ClaimDocument, error) {
	return r.load(ctx, r.db, id, false)
}

// Mutate locks the document row, applies fn to a copy and persists the result
// together with the history record fn returns, if any.
func (r *ClaimDocumentRepository) Mutate(
	ctx context.Context,
	id string,
	fn func(d *claimfinance.ClaimDocument) (*claimfinance.StatusTransition, error),
) (*claimfinance.ClaimDocument, error) {
	var result *claimfinance.ClaimDocument
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		current, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := current.Clone()
		rec, err := fn(next)
		if err != nil {
			return err
		}
		next.Version = current.Version + 1

		_, err = tx.Exec(ctx, `
			UPDATE claim_documents SET
				main_status = $2, finance_status_id = $3, finance_comment = $4,
				version = $5, updated_at = $6
			WHERE id = $1
		`, next.ID, string(next.MainStatus), next.FinanceStatusID(), next.FinanceComment, next.Version, next.UpdatedAt)
		if err != nil {
			return mapError(err, "failed to update claim document")
		}

		existing := make(map[string]bool, len(current.Attachments))
		for _, a := range current.Attachments {
			existing[a.ID] = true
		}
		for _, a := range next.Attachments {
			if !existing[a.ID] {
				if err := insertAttachment(ctx, tx, a); err != nil {
					return err
				}
			}
		}
		if rec != nil {
			if err := insertTransition(ctx, tx, rec); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to update claim document")
	}
	return result, nil
}

// History returns the status transitions of a document, oldest first.
func (r *ClaimDocumentRepository) History(ctx context.Context, id string) ([]*claimfinance.StatusTransition, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claim_documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, mapError(err, "failed to get claim document")
	}
	if !exists {
		return nil, errors.NotFound("claim document", id)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, reason, from_main_status, to_main_status,
		       from_finance_status_id, to_finance_status_id, comment, performed_by, performed_at
		FROM claim_status_transitions
		WHERE document_id = $1
		ORDER BY performed_at, id
	`, id)
	if err != nil {
		return nil, mapError(err, "failed to get claim history")
	}
	defer rows.Close()

	history := make([]*claimfinance.StatusTransition, 0)
	for rows.Next() {
		t := &claimfinance.StatusTransition{}
		var reason, from, to string
		err := rows.Scan(
			&t.ID,
			&t.DocumentID,
			&reason,
			&from,
			&to,
			&t.FromFinanceStatusID,
			&t.ToFinanceStatusID,
			&t.Comment,
			&t.PerformedBy,
			&t.PerformedAt,
		)
		if err != nil {
			return nil, mapError(err, "failed to scan claim transition")
		}
		t.Reason = claimfinance.TransitionReason(reason)
		t.FromMainStatus = claimfinance.MainStatus(from)
		t.ToMainStatus = claimfinance.MainStatus(to)
		history = append(history, t)
	}
	return history, mapError(rows.Err(), "failed to read claim history")
}

// Delete removes a document; history and attachments cascade.
func (r *ClaimDocumentRepository) Delete(ctx context.Context, id string) (*claimfinance.ClaimDocument, error) {
	var deleted *claimfinance.ClaimDocument
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		d, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM claim_documents WHERE id = $1`, id); err != nil {
			return mapError(err, "failed to delete claim document")
		}
		deleted = d
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to delete claim document")
	}
	return deleted, nil
}

func (r *ClaimDocumentRepository) load(ctx context.Context, q querier, id string, forUpdate bool) (*claimfinance.ClaimDocument, error) {
	query := claimSelect + ` WHERE d.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF d`
	}
	d, err := scanClaimDocument(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("claim document", id)
	}
	if err != nil {
		return nil, mapError(err, "failed to get claim document")
	}

	rows, err := q.Query(ctx, `
		SELECT id, document_id, file_name, content_type, file_size, storage_ref, uploaded_by, uploaded_at
		FROM claim_document_files
		WHERE document_id = $1
		ORDER BY uploaded_at, id
	`, id)
	if err != nil {
		return nil, mapError(err, "failed to get claim attachments")
	}
	defer rows.Close()
	for rows.Next() {
		a := &claimfinance.Attachment{}
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.FileName, &a.ContentType, &a.FileSize, &a.StorageRef, &a.UploadedBy, &a.UploadedAt); err != nil {
			return nil, mapError(err, "failed to scan claim attachment")
		}
		d.Attachments = append(d.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read claim attachments")
	}
	return d, nil
}

func insertAttachment(ctx context.Context, tx pgx.Tx, a *claimfinance.Attachment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO claim_document_files (id, document_id, file_name, content_type, file_size, storage_ref, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.DocumentID, a.FileName, a.ContentType, a.FileSize, a.StorageRef, a.UploadedBy, a.UploadedAt)
	return mapError(err, "failed to insert claim attachment")
}

func insertTransition(ctx context.Context, tx pgx.Tx, t *claimfinance.StatusTransition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO claim_status_transitions (
			id, document_id, reason, from_main_status, to_main_status,
			from_finance_status_id, to_finance_status_id, comment, performed_by, performed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		t.ID, t.DocumentID, string(t.Reason), string(t.FromMainStatus), string(t.ToMainStatus),
		t.FromFinanceStatusID, t.ToFinanceStatusID, t.Comment, t.PerformedBy, t.PerformedAt,
	)
	return mapError(err, "failed to record claim transition")
}

func scanClaimDocument(sc scanner) (*claimfinance.ClaimDocument, error) {
	d := &claimfinance.ClaimDocument{Attachments: []*claimfinance.Attachment{}}
	var (
		mainStatus            string
		fsID, fsName, fsLabel *string
		fsRequires            *bool
		fsMainStatus          *string
		fsPosition            *int
		createdAt, updatedAt  time.Time
	)
	err := sc.Scan(
		&d.ID,
		&d.ClaimNumber,
		&d.ContractNumber,
		&d.UnderwritingYear,
		&d.BrokerCedant,
		&d.Insured,
		&d.LossDate,
		&d.SequenceNo,
		&mainStatus,
		&d.FinanceComment,
		&d.Version,
		&d.CreatedBy,
		&createdAt,
		&updatedAt,
		&fsID,
		&fsName,
		&fsLabel,
		&fsRequires,
		&fsMainStatus,
		&fsPosition,
	)
	if err != nil {
		return nil, err
	}
	d.MainStatus = claimfinance.MainStatus(mainStatus)
	d.CreatedAt = createdAt.UTC()
	d.UpdatedAt = updatedAt.UTC()
	if fsID != nil {
		fs := &claimfinance.FinanceStatus{ID: *fsID}
		if fsName != nil {
			fs.Name = *fsName
		}
		if fsLabel != nil {
			fs.Label = *fsLabel
		}
		if fsRequires != nil {
			fs.RequiresComment = *fsRequires
		}
		if fsMainStatus != nil {
			ms := claimfinance.MainStatus(*fsMainStatus)
			fs.MainStatus = &ms
		}
		if fsPosition != nil {
			fs.Position = *fsPosition
		}
		d.FinanceStatus = fs
	}
	return d, nil
}

// FinanceStatusRepository reads the finance status catalog.
type FinanceStatusRepository struct {
	db *database.DB
}

// NewFinanceStatusRepository creates a new finance status repository
func NewFinanceStatusRepository(db *database.DB) *FinanceStatusRepository {
	return &FinanceStatusRepository{db: db}
}

// List returns every catalog entry in display order.
func (r *FinanceStatusRepository) List(ctx context.Context) ([]claimfinance.FinanceStatus, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, label, requires_comment, main_status, position
		FROM finance_statuses
		ORDER BY position, name
	`)
	if err != nil {
		return nil, mapError(err, "failed to list finance statuses")
	}
	defer rows.Close()

	statuses := make([]claimfinance.FinanceStatus, 0)
	for rows.Next() {
		var (
			s          claimfinance.FinanceStatus
			mainStatus *string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Label, &s.RequiresComment, &mainStatus, &s.Position); err != nil {
			return nil, mapError(err, "failed to scan finance status")
		}
		if mainStatus != nil {
			ms := claimfinance.MainStatus(*mainStatus)
			s.MainStatus = &ms
		}
		statuses = append(statuses, s)
	}
	return statuses, mapError(rows.Err(), "failed to read finance statuses")
}
