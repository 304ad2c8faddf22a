package server

import (
	"context"
	"time"

	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockEngine struct {
	mock.Mock
}

var _ Engine = (*mockEngine)(nil)

func (m *mockEngine) Tick(ctx context.Context, homeID string) (autopilot.Summary, error) {
	args := m.Called(ctx, homeID)
	if len(args) > 0 {
		return args.Get(0).(autopilot.Summary), args.Error(1)
	}
	return autopilot.Summary{}, nil
}

func (m *mockEngine) TickAll(ctx context.Context) (autopilot.Summary, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(autopilot.Summary), args.Error(1)
	}
	return autopilot.Summary{}, nil
}

func (m *mockEngine) OnGridEvent(ctx context.Context, event types.GridEvent, homeIDs []string) (autopilot.Summary, error) {
	args := m.Called(ctx, event, homeIDs)
	if len(args) > 0 {
		return args.Get(0).(autopilot.Summary), args.Error(1)
	}
	return autopilot.Summary{}, nil
}

func (m *mockEngine) OnGridEventCleared(ctx context.Context, event types.GridEvent, homeIDs []string) (autopilot.Summary, error) {
	args := m.Called(ctx, event, homeIDs)
	if len(args) > 0 {
		return args.Get(0).(autopilot.Summary), args.Error(1)
	}
	return autopilot.Summary{}, nil
}

func (m *mockEngine) Outlook(ctx context.Context, homeID string, windowHours int) (autopilot.Outlook, error) {
	args := m.Called(ctx, homeID, windowHours)
	if len(args) > 0 {
		return args.Get(0).(autopilot.Outlook), args.Error(1)
	}
	return autopilot.Outlook{}, nil
}

func (m *mockEngine) History(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error) {
	args := m.Called(ctx, homeID, start, end)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.ActionLog), args.Error(1)
	}
	return nil, nil
}

func (m *mockEngine) RecordUserAction(ctx context.Context, homeID, applianceID string, actor types.Actor, action types.ActionName) (types.ActionLog, error) {
	args := m.Called(ctx, homeID, applianceID, actor, action)
	if len(args) > 0 {
		return args.Get(0).(types.ActionLog), args.Error(1)
	}
	return types.ActionLog{}, nil
}
