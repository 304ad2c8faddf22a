package devicemock

import (
	"context"

	"github.com/raterudder/autopilot/pkg/device"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockController struct {
	mock.Mock
}

var _ device.Controller = (*MockController)(nil)

func (m *MockController) TurnOn(ctx context.Context, appliance types.Appliance) (device.Result, error) {
	args := m.Called(ctx, appliance)
	if len(args) > 0 {
		return args.Get(0).(device.Result), args.Error(1)
	}
	return device.Result{Success: true, Source: "mock"}, nil
}

func (m *MockController) TurnOff(ctx context.Context, appliance types.Appliance) (device.Result, error) {
	args := m.Called(ctx, appliance)
	if len(args) > 0 {
		return args.Get(0).(device.Result), args.Error(1)
	}
	return device.Result{Success: true, Source: "mock"}, nil
}

func (m *MockController) SetEcoMode(ctx context.Context, appliance types.Appliance, enabled bool) (device.Result, error) {
	args := m.Called(ctx, appliance, enabled)
	if len(args) > 0 {
		return args.Get(0).(device.Result), args.Error(1)
	}
	return device.Result{Success: true, Source: "mock"}, nil
}
