package device

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/storage/storagemock"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	token *fakeToken
	sent  []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return p.token
}

func testAppliance() types.Appliance {
	return types.Appliance{
		ID:             "ac1",
		HomeID:         "home1",
		Name:           "Bedroom AC",
		Status:         types.ApplianceStatusOn,
		Category:       "ac",
		IsControllable: true,
	}
}

func TestVirtual(t *testing.T) {
	ctx := context.Background()

	t.Run("TurnOff", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("UpdateApplianceState", mock.Anything, "home1", "ac1", types.ApplianceStatusOff, false, mock.Anything).Return(nil)

		res, err := NewVirtual(db).TurnOff(ctx, testAppliance())
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "virtual", res.Source)
		db.AssertExpectations(t)
	})

	t.Run("SetEcoMode keeps status", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("UpdateApplianceState", mock.Anything, "home1", "ac1", types.ApplianceStatusOn, true, mock.Anything).Return(nil)

		res, err := NewVirtual(db).SetEcoMode(ctx, testAppliance(), true)
		require.NoError(t, err)
		assert.Equal(t, "eco mode enabled", res.Message)
		db.AssertExpectations(t)
	})

	t.Run("Not controllable", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		a := testAppliance()
		a.IsControllable = false

		res, err := NewVirtual(db).TurnOn(ctx, a)
		assert.ErrorIs(t, err, ErrNotControllable)
		assert.False(t, res.Success)
		db.AssertNotCalled(t, "UpdateApplianceState")
	})

	t.Run("Store failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("UpdateApplianceState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("boom"))

		_, err := NewVirtual(db).TurnOn(ctx, testAppliance())
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("Cancelled context", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewVirtual(db).TurnOn(cctx, testAppliance())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMQTT(t *testing.T) {
	ctx := context.Background()
	a := testAppliance()
	a.SmartPlugID = "plug7"

	t.Run("TurnOff publishes and stores", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("UpdateApplianceState", mock.Anything, "home1", "ac1", types.ApplianceStatusOff, false, mock.Anything).Return(nil)
		pub := &fakePublisher{token: newFakeToken(nil, true)}
		m := &MQTT{db: db, client: pub, prefix: "autopilot/plugs", now: time.Now}

		res, err := m.TurnOff(ctx, a)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "mqtt", res.Source)

		require.Len(t, pub.sent, 1)
		assert.Equal(t, "autopilot/plugs/home1/plug7/set", pub.sent[0].topic)
		assert.Equal(t, byte(1), pub.sent[0].qos)

		var cmd Command
		require.NoError(t, json.Unmarshal(pub.sent[0].payload, &cmd))
		assert.Equal(t, "off", cmd.Command)
		assert.Equal(t, "ac1", cmd.Appliance)
		assert.Nil(t, cmd.EcoMode)
		db.AssertExpectations(t)
	})

	t.Run("SetEcoMode payload", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("UpdateApplianceState", mock.Anything, "home1", "ac1", types.ApplianceStatusOn, true, mock.Anything).Return(nil)
		pub := &fakePublisher{token: newFakeToken(nil, true)}
		m := &MQTT{db: db, client: pub, prefix: "p", now: time.Now}

		_, err := m.SetEcoMode(ctx, a, true)
		require.NoError(t, err)

		var cmd Command
		require.NoError(t, json.Unmarshal(pub.sent[0].payload, &cmd))
		require.NotNil(t, cmd.EcoMode)
		assert.True(t, *cmd.EcoMode)
	})

	t.Run("Publish error skips store", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		pub := &fakePublisher{token: newFakeToken(errors.New("not connected"), true)}
		m := &MQTT{db: db, client: pub, prefix: "p", now: time.Now}

		res, err := m.TurnOn(ctx, a)
		assert.ErrorContains(t, err, "not connected")
		assert.False(t, res.Success)
		db.AssertNotCalled(t, "UpdateApplianceState")
	})

	t.Run("Timeout", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		pub := &fakePublisher{token: newFakeToken(nil, false)}
		m := &MQTT{db: db, client: pub, prefix: "p", now: time.Now}

		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := m.TurnOn(tctx, a)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		db.AssertNotCalled(t, "UpdateApplianceState")
	})

	t.Run("Missing smart plug", func(t *testing.T) {
		m := &MQTT{db: &storagemock.MockDatabase{}, client: &fakePublisher{}, prefix: "p", now: time.Now}
		_, err := m.TurnOn(ctx, testAppliance())
		assert.ErrorContains(t, err, "no smart plug")
	})
}

func TestMap(t *testing.T) {
	virtual := NewVirtual(&storagemock.MockDatabase{})
	plug := &MQTT{}
	m := NewMap(virtual)

	a := testAppliance()
	withPlug := a
	withPlug.SmartPlugID = "plug7"

	t.Run("No smart plug controller", func(t *testing.T) {
		assert.Same(t, virtual, m.For(withPlug))
	})

	m.SetSmartPlug(plug)

	t.Run("Appliance with plug -> mqtt", func(t *testing.T) {
		assert.Same(t, plug, m.For(withPlug))
	})

	t.Run("Appliance without plug -> virtual", func(t *testing.T) {
		assert.Same(t, virtual, m.For(a))
	})

	t.Run("Timeout", func(t *testing.T) {
		assert.Equal(t, DefaultTimeout, m.Timeout())
		m.SetTimeout(time.Second)
		assert.Equal(t, time.Second, m.Timeout())
		m.SetTimeout(0)
		assert.Equal(t, DefaultTimeout, m.Timeout())
	})
}
