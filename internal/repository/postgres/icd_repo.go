package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"medcoder/internal/domain"
	"medcoder/internal/port"
)

type icdRepo struct {
	db *sqlx.DB
}

// NewICDRepo creates a new PostgreSQL-backed ICDCodeRepository.
func NewICDRepo(db *sqlx.DB) port.ICDCodeRepository {
	return &icdRepo{db: db}
}

func (r *icdRepo) GetByCode(ctx context.Context, code string) (*domain.ICD10Code, error) {
	var entry domain.ICD10Code
	err := r.db.GetContext(ctx, &entry,
		"SELECT * FROM icd10_codes WHERE code = $1", code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("icdRepo.GetByCode: %w", err)
	}
	return &entry, nil
}

// DescribeAll returns catalog descriptions keyed by code for the codes that
// exist; unknown codes are simply absent from the map.
func (r *icdRepo) DescribeAll(ctx context.Context, codes []string) (map[string]string, error) {
	if len(codes) == 0 {
		return map[string]string{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT code, description FROM icd10_codes WHERE code IN (?)", codes)
	if err != nil {
		return nil, fmt.Errorf("icdRepo.DescribeAll: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []struct {
		Code        string `db:"code"`
		Description string `db:"description"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("icdRepo.DescribeAll: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Code] = row.Description
	}
	return out, nil
}
