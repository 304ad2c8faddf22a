package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
)

// DefaultTimeout bounds a single device call.
const DefaultTimeout = 10 * time.Second

// ErrNotControllable is returned when a command targets an appliance that
// cannot be switched remotely.
var ErrNotControllable = errors.New("appliance is not controllable")

// Result describes the outcome of a device command.
type Result struct {
	Success bool
	// Source is the controller that handled the command, e.g. "virtual" or
	// "mqtt".
	Source  string
	Message string
	Elapsed time.Duration
}

// Controller switches appliances. Implementations must respect ctx
// cancellation and return an error when the command did not complete.
type Controller interface {
	TurnOn(ctx context.Context, appliance types.Appliance) (Result, error)
	TurnOff(ctx context.Context, appliance types.Appliance) (Result, error)
	SetEcoMode(ctx context.Context, appliance types.Appliance, enabled bool) (Result, error)
}

// Configured sets up the device Map from flags. The store is used by the
// virtual controller and to persist state after MQTT commands.
func Configured(db storage.Database) *Map {
	timeout := lflag.Duration("device-timeout", DefaultTimeout, "Timeout for a single device command")
	mc := configuredMQTT(db)

	m := NewMap(NewVirtual(db))
	lflag.Do(func() {
		m.timeout = *timeout
		if mc != nil && mc.enabled() {
			m.SetSmartPlug(mc)
		}
	})
	return m
}

// Map selects the controller for an appliance.
type Map struct {
	mu        sync.Mutex
	fallback  Controller
	smartPlug Controller
	timeout   time.Duration
}

// NewMap creates a Map that sends every command to fallback until a smart
// plug controller is set.
func NewMap(fallback Controller) *Map {
	return &Map{
		fallback: fallback,
		timeout:  DefaultTimeout,
	}
}

// For returns the controller for the appliance. Appliances with a smart plug
// use the smart plug controller when one is configured.
func (m *Map) For(appliance types.Appliance) Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if appliance.SmartPlugID != "" && m.smartPlug != nil {
		return m.smartPlug
	}
	return m.fallback
}

// SetSmartPlug sets the smart plug controller. This is also used for testing.
func (m *Map) SetSmartPlug(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.smartPlug = c
}

// SetFallback replaces the default controller. This is primarily used for
// testing.
func (m *Map) SetFallback(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = c
}

// Timeout returns the per-command timeout.
func (m *Map) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeout <= 0 {
		return DefaultTimeout
	}
	return m.timeout
}

// SetTimeout overrides the per-command timeout.
func (m *Map) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}
