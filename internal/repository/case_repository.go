package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/database"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// CaseFilter narrows case listings. Empty fields match everything.
type CaseFilter struct {
	Status         string
	Cedant         string
	LineOfBusiness string
	Limit          int
	Offset         int
}

// CaseRepository stores cases, checklist items and file metadata in Postgres.
type CaseRepository struct {
	db *database.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `
	id, case_name, cedant, reinsurer, line_of_business, template_name,
	status, operations_approval_status, approved_by, approved_at, approval_comment,
	version, created_by, created_at, updated_at`

// Create inserts a case with its checklist items in one transaction.
func (r *CaseRepository) Create(ctx context.Context, c *checklist.Case) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cases (`+caseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			c.ID, c.CaseName, c.Cedant, c.Reinsurer, c.LineOfBusiness, c.TemplateName,
			string(c.Status), string(c.OperationsApprovalStatus), c.ApprovedBy, c.ApprovedAt, c.ApprovalComment,
			c.Version, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "failed to create case")
		}

		for _, it := range c.Items {
			_, err := tx.Exec(ctx, `
				INSERT INTO checklist_items (id, case_id, document_name, section, position, is_required, is_completed)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, it.ID, c.ID, it.DocumentName, string(it.Section), it.Position, it.IsRequired, it.IsCompleted)
			if err != nil {
				return mapError(err, "failed to create checklist item")
			}
			for _, f := range it.Files {
				if err := insertFile(ctx, tx, c.ID, f); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return mapError(err, "failed to create case")
}

// GetByID loads a case with its items and files.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*checklist.Case, error) {
	return r.load(ctx, r.db, id, false)
}

// List returns a page of cases matching filter plus the total match count.
func (r *CaseRepository) List(ctx context.Context, filter CaseFilter) ([]*checklist.Case, int64, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", strings.ToUpper(filter.Status))
	}
	if filter.Cedant != "" {
		add("cedant ILIKE $%d", "%"+filter.Cedant+"%")
	}
	if filter.LineOfBusiness != "" {
		add("LOWER(line_of_business) = LOWER($%d)", filter.LineOfBusiness)
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM cases "+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count cases")
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM cases
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, caseColumns, whereSQL, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list cases")
	}
	cases, err := scanCaseRows(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := loadChildren(ctx, r.db, cases); err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}

// Mutate locks the case row, applies fn to a copy and persists the difference.
// fn's error aborts the transaction and is returned unchanged. The version is
// incremented on every committed mutation.
func (r *CaseRepository) Mutate(ctx context.Context, id string, fn func(c *checklist.Case) error) (*checklist.Case, error) {
	var result *checklist.Case
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		current, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Version = current.Version + 1
		if err := persistDiff(ctx, tx, current, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to update case")
	}
	return result, nil
}

// Delete removes a case and, by cascade, its items and file metadata.
// The deleted case is returned so callers can release blobs.
func (r *CaseRepository) Delete(ctx context.Context, id string) (*checklist.Case, error) {
	var deleted *checklist.Case
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		c, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id); err != nil {
			return mapError(err, "failed to delete case")
		}
		deleted = c
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to delete case")
	}
	return deleted, nil
}

func (r *CaseRepository) load(ctx context.Context, q querier, id string, forUpdate bool) (*checklist.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCase(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", id)
	}
	if err != nil {
		return nil, mapError(err, "failed to get case")
	}
	if err := loadChildren(ctx, q, []*checklist.Case{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func loadChildren(ctx context.Context, q querier, cases []*checklist.Case) error {
	if len(cases) == 0 {
		return nil
	}
	ids := make([]string, len(cases))
	byCase := make(map[string]*checklist.Case, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
		byCase[c.ID] = c
		c.Items = []*checklist.ChecklistItem{}
	}

	rows, err := q.Query(ctx, `
		SELECT id, case_id, document_name, section, position, is_required, is_completed
		FROM checklist_items
		WHERE case_id = ANY($1)
		ORDER BY case_id, position
	`, ids)
	if err != nil {
		return mapError(err, "failed to get checklist items")
	}
	items := make(map[string]*checklist.ChecklistItem)
	for rows.Next() {
		it := &checklist.ChecklistItem{Files: []*checklist.ChecklistFile{}}
		var section string
		if err := rows.Scan(&it.ID, &it.CaseID, &it.DocumentName, &section, &it.Position, &it.IsRequired, &it.IsCompleted); err != nil {
			rows.Close()
			return mapError(err, "failed to scan checklist item")
		}
		it.Section = checklist.Section(section)
		items[it.ID] = it
		byCase[it.CaseID].Items = append(byCase[it.CaseID].Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapError(err, "failed to read checklist items")
	}

	rows, err = q.Query(ctx, `
		SELECT id, item_id, file_name, content_type, file_size, storage_ref, uploaded_by, uploaded_at
		FROM checklist_files
		WHERE case_id = ANY($1)
		ORDER BY seq
	`, ids)
	if err != nil {
		return mapError(err, "failed to get checklist files")
	}
	defer rows.Close()
	for rows.Next() {
		f := &checklist.ChecklistFile{}
		if err := rows.Scan(&f.ID, &f.ItemID, &f.FileName, &f.ContentType, &f.FileSize, &f.StorageRef, &f.UploadedBy, &f.UploadedAt); err != nil {
			return mapError(err, "failed to scan checklist file")
		}
		if it, ok := items[f.ItemID]; ok {
			it.Files = append(it.Files, f)
		}
	}
	return mapError(rows.Err(), "failed to read checklist files")
}

// persistDiff writes the case header, changed item flags and the file set delta.
func persistDiff(ctx context.Context, tx pgx.Tx, before, after *checklist.Case) error {
	_, err := tx.Exec(ctx, `
		UPDATE cases SET
			case_name = $2, cedant = $3, reinsurer = $4, line_of_business = $5,
			status = $6, operations_approval_status = $7,
			approved_by = $8, approved_at = $9, approval_comment = $10,
			version = $11, updated_at = $12
		WHERE id = $1
	`,
		after.ID, after.CaseName, after.Cedant, after.Reinsurer, after.LineOfBusiness,
		string(after.Status), string(after.OperationsApprovalStatus),
		after.ApprovedBy, after.ApprovedAt, after.ApprovalComment,
		after.Version, after.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "failed to update case")
	}

	oldFiles := make(map[string]bool)
	for _, it := range before.Items {
		for _, f := range it.Files {
			oldFiles[f.ID] = true
		}
	}
	newFiles := make(map[string]bool)

	for _, it := range after.Items {
		prev := before.Item(it.ID)
		if prev == nil {
			return errors.New(errors.ErrCodeInternal, "checklist items cannot be added after case creation")
		}
		if prev.IsCompleted != it.IsCompleted {
			if _, err := tx.Exec(ctx, `UPDATE checklist_items SET is_completed = $2 WHERE id = $1`, it.ID, it.IsCompleted); err != nil {
				return mapError(err, "failed to update checklist item")
			}
		}
		for _, f := range it.Files {
			newFiles[f.ID] = true
			if !oldFiles[f.ID] {
				if err := insertFile(ctx, tx, after.ID, f); err != nil {
					return err
				}
			}
		}
	}

	for id := range oldFiles {
		if !newFiles[id] {
			if _, err := tx.Exec(ctx, `DELETE FROM checklist_files WHERE id = $1`, id); err != nil {
				return mapError(err, "failed to delete checklist file")
			}
		}
	}
	return nil
}

func insertFile(ctx context.Context, tx pgx.Tx, caseID string, f *checklist.ChecklistFile) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checklist_files (id, case_id, item_id, file_name, content_type, file_size, storage_ref, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, caseID, f.ItemID, f.FileName, f.ContentType, f.FileSize, f.StorageRef, f.UploadedBy, f.UploadedAt)
	return mapError(err, "failed to insert checklist file")
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanCaseRows(rows pgx.Rows) ([]*checklist.Case, error) {
	defer rows.Close()
	cases := make([]*checklist.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, mapError(err, "failed to scan case")
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read cases")
	}
	return cases, nil
}

func scanCase(sc scanner) (*checklist.Case, error) {
	c := &checklist.Case{}
	var (
		status, approval string
		approvedAt       *time.Time
	)
	err := sc.Scan(
		&c.ID,
		&c.CaseName,
		&c.Cedant,
		&c.Reinsurer,
		&c.LineOfBusiness,
		&c.TemplateName,
		&status,
		&approval,
		&c.ApprovedBy,
		&approvedAt,
		&c.ApprovalComment,
		&c.Version,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = checklist.CaseStatus(status)
	c.OperationsApprovalStatus = checklist.ApprovalStatus(approval)
	if approvedAt != nil {
		t := approvedAt.UTC()
		c.ApprovedAt = &t
	}
	return c, nil
}
