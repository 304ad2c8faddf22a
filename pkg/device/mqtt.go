package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
)

// publisher is the subset of paho.Client used to send commands.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Command is the JSON payload published to a smart plug.
type Command struct {
	Command   string    `json:"command"`
	EcoMode   *bool     `json:"ecoMode,omitempty"`
	Appliance string    `json:"applianceID"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTT controls smart plugs by publishing commands to
// <prefix>/<homeID>/<smartPlugID>/set. The stored appliance state is updated
// once the broker acknowledges the publish.
type MQTT struct {
	db     storage.Database
	client publisher
	prefix string
	now    func() time.Time

	broker   string
	clientID string
}

func configuredMQTT(db storage.Database) *MQTT {
	broker := lflag.String("mqtt-broker", "", "MQTT broker for smart plug commands (e.g. tcp://localhost:1883)")
	clientID := lflag.String("mqtt-client-id", "autopilot", "MQTT client ID")
	prefix := lflag.String("mqtt-topic-prefix", "autopilot/plugs", "MQTT topic prefix for smart plug commands")

	m := &MQTT{
		db:  db,
		now: time.Now,
	}
	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.prefix = strings.TrimSuffix(*prefix, "/")
		if m.broker == "" {
			return
		}
		if err := m.connect(); err != nil {
			panic(fmt.Sprintf("mqtt connect failed: %v", err))
		}
	})
	return m
}

// NewMQTT returns an MQTT controller that publishes through client.
func NewMQTT(db storage.Database, client paho.Client, prefix string) *MQTT {
	return &MQTT{
		db:     db,
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		now:    time.Now,
	}
}

func (m *MQTT) connect() error {
	opts := paho.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	m.client = client
	return nil
}

func (m *MQTT) enabled() bool {
	return m.client != nil
}

// Topic returns the command topic for the appliance.
func (m *MQTT) Topic(a types.Appliance) string {
	return fmt.Sprintf("%s/%s/%s/set", m.prefix, a.HomeID, a.SmartPlugID)
}

func (m *MQTT) send(ctx context.Context, a types.Appliance, cmd Command, st types.ApplianceStatus, eco bool) (Result, error) {
	start := m.now()
	res := Result{Source: "mqtt"}
	if !a.IsControllable {
		res.Message = "not controllable"
		return res, fmt.Errorf("%w: %s", ErrNotControllable, a.ID)
	}
	if a.SmartPlugID == "" {
		return res, fmt.Errorf("appliance %s has no smart plug", a.ID)
	}
	cmd.Appliance = a.ID
	cmd.Timestamp = start.UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return res, fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 so the plug receives the command at least once
	token := m.client.Publish(m.Topic(a), 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		res.Elapsed = m.now().Sub(start)
		return res, fmt.Errorf("publish to %s: %w", m.Topic(a), ctx.Err())
	}
	if err := token.Error(); err != nil {
		res.Elapsed = m.now().Sub(start)
		return res, fmt.Errorf("publish: %w", err)
	}

	if err := m.db.UpdateApplianceState(ctx, a.HomeID, a.ID, st, eco, m.now()); err != nil {
		res.Elapsed = m.now().Sub(start)
		return res, fmt.Errorf("failed to update appliance state: %w", err)
	}
	res.Success = true
	res.Message = cmd.Command + " published"
	res.Elapsed = m.now().Sub(start)

	log.Ctx(ctx).DebugContext(
		ctx,
		"published device command",
		slog.String("topic", m.Topic(a)),
		slog.String("command", cmd.Command),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (m *MQTT) TurnOn(ctx context.Context, a types.Appliance) (Result, error) {
	return m.send(ctx, a, Command{Command: "on"}, types.ApplianceStatusOn, a.EcoModeEnabled)
}

func (m *MQTT) TurnOff(ctx context.Context, a types.Appliance) (Result, error) {
	return m.send(ctx, a, Command{Command: "off"}, types.ApplianceStatusOff, a.EcoModeEnabled)
}

func (m *MQTT) SetEcoMode(ctx context.Context, a types.Appliance, enabled bool) (Result, error) {
	return m.send(ctx, a, Command{Command: "eco", EcoMode: &enabled}, a.Status, enabled)
}
