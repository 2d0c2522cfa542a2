package port

import (
	"context"

	"github.com/google/uuid"

	"medcoder/internal/domain"
)

// DocumentRepository defines the contract for document persistence.
//
// The Mark* methods are compare-and-set transitions: they only touch rows in
// the expected source status and return domain.ErrInvalidTransition when the
// guard does not match, so a document can never move backwards or leave a
// terminal status.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, docID uuid.UUID) (*domain.Document, error)
	List(ctx context.Context, offset, limit int) ([]domain.Document, int, error)
	ListPending(ctx context.Context, limit int) ([]domain.Document, error)
	MarkProcessing(ctx context.Context, docID uuid.UUID) error
	MarkCompleted(ctx context.Context, docID uuid.UUID, results []domain.DiagnosisCode) error
	MarkFailed(ctx context.Context, docID uuid.UUID, errMsg string) error
}

// ICDCodeRepository defines the contract for the ICD-10 reference catalog.
type ICDCodeRepository interface {
	GetByCode(ctx context.Context, code string) (*domain.ICD10Code, error)
	DescribeAll(ctx context.Context, codes []string) (map[string]string, error)
}
