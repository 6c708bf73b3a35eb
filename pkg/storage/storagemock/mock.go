package storagemock

import (
	"context"

	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (types.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.User), args.Error(1)
}

func (m *MockDatabase) CreateUser(ctx context.Context, user types.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockDatabase) UpdateUser(ctx context.Context, user types.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockDatabase) GetCharger(ctx context.Context, userID, chargerID string) (types.Charger, error) {
	args := m.Called(ctx, userID, chargerID)
	return args.Get(0).(types.Charger), args.Error(1)
}

func (m *MockDatabase) ListChargers(ctx context.Context, userID string) ([]types.Charger, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Charger), args.Error(1)
}

func (m *MockDatabase) SetCharger(ctx context.Context, userID string, charger types.Charger) error {
	return m.Called(ctx, userID, charger).Error(0)
}

func (m *MockDatabase) DeleteCharger(ctx context.Context, userID, chargerID string) error {
	return m.Called(ctx, userID, chargerID).Error(0)
}

func (m *MockDatabase) GetVehicle(ctx context.Context, userID, vehicleID string) (types.Vehicle, error) {
	args := m.Called(ctx, userID, vehicleID)
	return args.Get(0).(types.Vehicle), args.Error(1)
}

func (m *MockDatabase) ListVehicles(ctx context.Context, userID string) ([]types.Vehicle, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Vehicle), args.Error(1)
}

func (m *MockDatabase) SetVehicle(ctx context.Context, userID string, vehicle types.Vehicle) error {
	return m.Called(ctx, userID, vehicle).Error(0)
}

func (m *MockDatabase) DeleteVehicle(ctx context.Context, userID, vehicleID string) error {
	return m.Called(ctx, userID, vehicleID).Error(0)
}

func (m *MockDatabase) GetPolicy(ctx context.Context, userID, policyID string) (types.ChargingPolicy, error) {
	args := m.Called(ctx, userID, policyID)
	return args.Get(0).(types.ChargingPolicy), args.Error(1)
}

func (m *MockDatabase) ListPolicies(ctx context.Context, userID string) ([]types.ChargingPolicy, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ChargingPolicy), args.Error(1)
}

func (m *MockDatabase) SetPolicy(ctx context.Context, userID string, policy types.ChargingPolicy) error {
	return m.Called(ctx, userID, policy).Error(0)
}

func (m *MockDatabase) DeletePolicy(ctx context.Context, userID, policyID string) error {
	return m.Called(ctx, userID, policyID).Error(0)
}

func (m *MockDatabase) GetTibberConnection(ctx context.Context, userID string) (types.TibberConnection, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.TibberConnection), args.Error(1)
}

func (m *MockDatabase) SetTibberConnection(ctx context.Context, userID string, conn types.TibberConnection) error {
	return m.Called(ctx, userID, conn).Error(0)
}

func (m *MockDatabase) DeleteTibberConnection(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockDatabase) GetAutomation(ctx context.Context, userID string) (types.AutomationSettings, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.AutomationSettings), args.Error(1)
}

func (m *MockDatabase) SetAutomation(ctx context.Context, userID string, settings types.AutomationSettings) error {
	return m.Called(ctx, userID, settings).Error(0)
}

func (m *MockDatabase) DeleteAutomation(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockDatabase) GetUserIDForCronKey(ctx context.Context, keyHash string) (string, error) {
	args := m.Called(ctx, keyHash)
	return args.String(0), args.Error(1)
}

func (m *MockDatabase) SetCronKey(ctx context.Context, userID, keyHash string) error {
	return m.Called(ctx, userID, keyHash).Error(0)
}

func (m *MockDatabase) DeleteCronKey(ctx context.Context, keyHash string) error {
	return m.Called(ctx, keyHash).Error(0)
}

func (m *MockDatabase) Close() error {
	return m.Called().Error(0)
}
