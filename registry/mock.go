package registry

import (
	"context"

	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockTokenRegistry mocks the TokenSource interface
type MockTokenRegistry struct {
	mock.Mock
}

// GetTokens mocks the GetTokens method
func (m *MockTokenRegistry) GetTokens(ctx context.Context) ([]interfaces.TokenRecord, int, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]interfaces.TokenRecord)
	return records, args.Int(1), args.Error(2)
}
