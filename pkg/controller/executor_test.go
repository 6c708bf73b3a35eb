package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Login(ctx context.Context, username, password string) (types.ChargerCredentials, error) {
	args := m.Called(ctx, username, password)
	return args.Get(0).(types.ChargerCredentials), args.Error(1)
}

func (m *mockClient) SetCredentials(creds types.ChargerCredentials) {
	m.Called(creds)
}

func (m *mockClient) Credentials() (types.ChargerCredentials, bool) {
	args := m.Called()
	return args.Get(0).(types.ChargerCredentials), args.Bool(1)
}

func (m *mockClient) Chargers(ctx context.Context) ([]types.VendorCharger, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.VendorCharger), args.Error(1)
}

func (m *mockClient) State(ctx context.Context, chargerID string) (types.ChargerState, error) {
	args := m.Called(ctx, chargerID)
	return args.Get(0).(types.ChargerState), args.Error(1)
}

func (m *mockClient) Start(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockClient) Pause(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockClient) Resume(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockClient) Stop(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	ch := types.Charger{ID: "c1", Name: "Garage", VendorChargerID: "EH123"}
	policy := types.ChargingPolicy{ID: "p1", ChargerID: "c1", MaxPrice: 0.25, Enabled: true}
	cheap := types.PricePoint{Total: 0.10}
	expensive := types.PricePoint{Total: 0.40}

	t.Run("Start Success", func(t *testing.T) {
		m := &mockClient{}
		m.On("Start", mock.Anything, "EH123").Return(nil)

		res := Execute(ctx, m, ch, policy, cheap, types.ChargerState{
			OperatingMode: types.OperatingModeAwaitingStart,
		})
		assert.Equal(t, types.OutcomeSuccess, res.Outcome)
		assert.Equal(t, types.ActionStart, res.Action)
		assert.True(t, res.ShouldCharge)
		assert.Equal(t, 0.10, res.CurrentPrice)
		assert.Equal(t, 0.25, res.MaxPrice)
		m.AssertExpectations(t)
	})

	t.Run("Start Failure Is Error", func(t *testing.T) {
		m := &mockClient{}
		m.On("Start", mock.Anything, "EH123").Return(errors.New("charger offline"))

		res := Execute(ctx, m, ch, policy, cheap, types.ChargerState{
			OperatingMode: types.OperatingModeReadyToCharge,
		})
		assert.Equal(t, types.OutcomeError, res.Outcome)
		assert.Contains(t, res.Message, "charger offline")
	})

	t.Run("Already Charging Is Skipped", func(t *testing.T) {
		m := &mockClient{}

		res := Execute(ctx, m, ch, policy, cheap, types.ChargerState{
			OperatingMode: types.OperatingModeCharging,
		})
		assert.Equal(t, types.OutcomeSkipped, res.Outcome)
		assert.Equal(t, types.ActionNone, res.Action)
		assert.Equal(t, "already charging", res.Message)
		// never touches the charger
		m.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	})

	t.Run("Resume Success", func(t *testing.T) {
		m := &mockClient{}
		m.On("Resume", mock.Anything, "EH123").Return(nil)

		res := Execute(ctx, m, ch, policy, cheap, types.ChargerState{
			OperatingMode: types.OperatingModeCompleted,
		})
		assert.Equal(t, types.OutcomeSuccess, res.Outcome)
		assert.Equal(t, types.ActionStart, res.Action)
		m.AssertExpectations(t)
	})

	t.Run("Resume Failure Degrades To Skipped", func(t *testing.T) {
		m := &mockClient{}
		m.On("Resume", mock.Anything, "EH123").Return(errors.New("no session"))

		res := Execute(ctx, m, ch, policy, cheap, types.ChargerState{
			OperatingMode: types.OperatingModeDisconnected,
		})
		assert.Equal(t, types.OutcomeSkipped, res.Outcome, "resume failure must never be an error")
		assert.Equal(t, "charger not ready, will retry next cycle", res.Message)
	})

	t.Run("Pause Success", func(t *testing.T) {
		m := &mockClient{}
		m.On("Pause", mock.Anything, "EH123").Return(nil)

		res := Execute(ctx, m, ch, policy, expensive, types.ChargerState{
			OperatingMode: types.OperatingModeCharging,
		})
		assert.Equal(t, types.OutcomeSuccess, res.Outcome)
		assert.Equal(t, types.ActionPause, res.Action)
		assert.False(t, res.ShouldCharge)
	})

	t.Run("Pause Failure Is Error", func(t *testing.T) {
		m := &mockClient{}
		m.On("Pause", mock.Anything, "EH123").Return(errors.New("timeout"))

		res := Execute(ctx, m, ch, policy, expensive, types.ChargerState{
			OperatingMode: types.OperatingModeCharging,
		})
		assert.Equal(t, types.OutcomeError, res.Outcome)
		assert.Contains(t, res.Message, "timeout")
	})

	t.Run("Expensive Idle Is Skipped", func(t *testing.T) {
		m := &mockClient{}

		res := Execute(ctx, m, ch, policy, expensive, types.ChargerState{
			OperatingMode: types.OperatingModeAwaitingStart,
		})
		require.Equal(t, types.OutcomeSkipped, res.Outcome)
		assert.Equal(t, "no action needed", res.Message)
	})
}
