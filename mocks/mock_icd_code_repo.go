package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"medcoder/internal/domain"
)

// MockICDCodeRepo is a mock implementation of port.ICDCodeRepository.
type MockICDCodeRepo struct {
	mock.Mock
}

func (m *MockICDCodeRepo) GetByCode(ctx context.Context, code string) (*domain.ICD10Code, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ICD10Code), args.Error(1)
}

func (m *MockICDCodeRepo) DescribeAll(ctx context.Context, codes []string) (map[string]string, error) {
	args := m.Called(ctx, codes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}
