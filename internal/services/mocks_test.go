package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGateway is a testify mock of the PaymentGateway contract.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateOrder(ctx context.Context, accountID string, amountMinorUnits int64, currency string) (string, error) {
	args := m.Called(ctx, accountID, amountMinorUnits, currency)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) VerifyPayment(orderID, paymentID, signature string) bool {
	args := m.Called(orderID, paymentID, signature)
	return args.Bool(0)
}

func (m *MockGateway) PaymentLink(orderID string) string {
	args := m.Called(orderID)
	return args.String(0)
}
