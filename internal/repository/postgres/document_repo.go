package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"medcoder/internal/domain"
	"medcoder/internal/port"
)

type documentRepo struct {
	db *sqlx.DB
}

// NewDocumentRepo creates a new PostgreSQL-backed DocumentRepository.
func NewDocumentRepo(db *sqlx.DB) port.DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `INSERT INTO documents (
		id, file_name, original_name, s3_bucket, s3_key,
		content_type, file_size, status, vlm_results, error_message,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, NULL, '',
		$9, $10
	)`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.FileName, doc.OriginalName, doc.S3Bucket, doc.S3Key,
		doc.ContentType, doc.FileSize, doc.Status,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("documentRepo.Create: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, docID uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.GetContext(ctx, &doc,
		"SELECT * FROM documents WHERE id = $1", docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("documentRepo.GetByID: %w", err)
	}
	return &doc, nil
}

func (r *documentRepo) List(ctx context.Context, offset, limit int) ([]domain.Document, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM documents")
	if err != nil {
		return nil, 0, fmt.Errorf("documentRepo.List count: %w", err)
	}

	var docs []domain.Document
	err = r.db.SelectContext(ctx, &docs,
		`SELECT * FROM documents
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("documentRepo.List: %w", err)
	}
	return docs, total, nil
}

func (r *documentRepo) ListPending(ctx context.Context, limit int) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.db.SelectContext(ctx, &docs,
		`SELECT * FROM documents WHERE status = $1
		 ORDER BY created_at ASC LIMIT $2`,
		domain.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("documentRepo.ListPending: %w", err)
	}
	return docs, nil
}

// MarkProcessing moves pending -> processing. The status guard makes the
// transition a compare-and-set: a second dispatch for the same document sees
// zero rows affected and backs off.
func (r *documentRepo) MarkProcessing(ctx context.Context, docID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		domain.StatusProcessing, time.Now().UTC(), docID, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("documentRepo.MarkProcessing: %w", err)
	}
	return checkTransition(ctx, r.db, result, docID)
}

// MarkCompleted moves processing -> completed, storing the parsed codes and
// clearing any error message in the same statement so the record never holds
// both.
func (r *documentRepo) MarkCompleted(ctx context.Context, docID uuid.UUID, results []domain.DiagnosisCode) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("documentRepo.MarkCompleted marshal: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, vlm_results = $2, error_message = '', updated_at = $3
		 WHERE id = $4 AND status = $5`,
		domain.StatusCompleted, payload, time.Now().UTC(), docID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("documentRepo.MarkCompleted: %w", err)
	}
	return checkTransition(ctx, r.db, result, docID)
}

// MarkFailed moves pending/processing -> failed. Pending is allowed so a
// dispatch error can fail a document that never started processing.
func (r *documentRepo) MarkFailed(ctx context.Context, docID uuid.UUID, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, error_message = $2, vlm_results = NULL, updated_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		domain.StatusFailed, errMsg, time.Now().UTC(), docID,
		domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("documentRepo.MarkFailed: %w", err)
	}
	return checkTransition(ctx, r.db, result, docID)
}

// checkTransition distinguishes "no such document" from "illegal transition"
// when a guarded update touched zero rows.
func checkTransition(ctx context.Context, db *sqlx.DB, result sql.Result, docID uuid.UUID) error {
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	var exists bool
	if err := db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)", docID); err != nil {
		return fmt.Errorf("documentRepo transition check: %w", err)
	}
	if !exists {
		return domain.ErrDocumentNotFound
	}
	return domain.ErrInvalidTransition
}
