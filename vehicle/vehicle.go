package vehicle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kwv/trackmesh/config"
	"github.com/kwv/trackmesh/protocol"
)

// Vehicle is one connected vehicle: a link, the router its notifications are
// dispatched through, and paced command sending.
type Vehicle struct {
	id      string
	link    Link
	router  *Router
	limiter *rate.Limiter

	mu      sync.RWMutex
	session string
}

// New creates a vehicle on link. Commands are paced by cmd; zero values fall
// back to the config defaults.
func New(id string, link Link, cmd config.CommandConfig) *Vehicle {
	if cmd.PerSecond <= 0 {
		cmd.PerSecond = config.DefaultPerSecond
	}
	if cmd.Burst <= 0 {
		cmd.Burst = config.DefaultBurst
	}
	return &Vehicle{
		id:      id,
		link:    link,
		router:  NewRouter(),
		limiter: rate.NewLimiter(rate.Limit(cmd.PerSecond), cmd.Burst),
	}
}

func (v *Vehicle) ID() string { return v.id }

// Router returns the router notifications of this vehicle are dispatched
// through.
func (v *Vehicle) Router() *Router { return v.router }

// Session returns the id of the current connection, or "" before Connect.
func (v *Vehicle) Session() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.session
}

// Connected reports the state last dispatched to the router.
func (v *Vehicle) Connected() bool { return v.router.Connected() }

// OnCharger reports the charger flag last dispatched to the router.
func (v *Vehicle) OnCharger() bool { return v.router.OnCharger() }

// Connect subscribes to the link, connects it and dispatches the Connected
// notification. Every inbound frame is decoded and dispatched from then on.
func (v *Vehicle) Connect() error {
	v.link.Subscribe(v.HandleFrame)
	if w, ok := v.link.(StateWatcher); ok {
		w.OnStateChange(v.handleState)
	}

	if err := v.link.Connect(); err != nil {
		return fmt.Errorf("connecting vehicle %s: %w", v.id, err)
	}

	session := uuid.NewString()
	v.mu.Lock()
	v.session = session
	v.mu.Unlock()

	Logf("[VEHICLE] %s connected (session %s)", v.id, session)
	_ = v.router.Dispatch(protocol.Connected(true))
	return nil
}

// Disconnect asks the vehicle to drop the link, closes it and dispatches the
// disconnected state.
func (v *Vehicle) Disconnect() error {
	if v.link.IsConnected() {
		// Best effort; the link is closed either way.
		v.link.WriteRaw(protocol.EncodeDisconnect())
	}
	err := v.link.Disconnect()

	Logf("[VEHICLE] %s disconnected (session %s)", v.id, v.Session())
	_ = v.router.Dispatch(protocol.Connected(false))
	if err != nil {
		return fmt.Errorf("disconnecting vehicle %s: %w", v.id, err)
	}
	return nil
}

func (v *Vehicle) handleState(connected bool) {
	Logf("[VEHICLE] %s link state changed: connected=%v", v.id, connected)
	_ = v.router.Dispatch(protocol.Connected(connected))
}

// HandleFrame decodes one inbound frame and dispatches it. Frames that fail
// to decode are logged and dropped.
func (v *Vehicle) HandleFrame(frame []byte) {
	n, err := protocol.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocolAssumptionViolated) {
			Logf("[VEHICLE] %s: FIRMWARE PROTOCOL MISMATCH, dropping frame % X: %v", v.id, frame, err)
			return
		}
		Logf("[VEHICLE] %s: dropping frame % X: %v", v.id, frame, err)
		return
	}
	// Listener failures are reported by the router's error handler.
	_ = v.router.Dispatch(n)
}

// send writes frame through the limiter. A write over the rate is refused,
// not delayed.
func (v *Vehicle) send(frame []byte) error {
	name := protocol.MessageName(frame[1])
	if !v.link.IsConnected() {
		return fmt.Errorf("sending %s to %s: %w", name, v.id, ErrNotConnected)
	}
	if !v.limiter.Allow() {
		return fmt.Errorf("sending %s to %s: %w", name, v.id, ErrWriteThrottled)
	}
	if !v.link.WriteRaw(frame) {
		return fmt.Errorf("sending %s to %s: %w", name, v.id, ErrWriteFailed)
	}
	return nil
}

// SetSDKMode must be enabled before the firmware accepts driving commands.
func (v *Vehicle) SetSDKMode(on bool) error {
	return v.send(protocol.EncodeSDKMode(on))
}

// SetSpeed sets the target speed in mm/s, respecting per-piece limits.
func (v *Vehicle) SetSpeed(speed, accel int16) error {
	return v.send(protocol.EncodeSetSpeed(speed, accel, true))
}

// SetSpeedUnlimited sets the target speed ignoring per-piece limits.
func (v *Vehicle) SetSpeedUnlimited(speed, accel int16) error {
	return v.send(protocol.EncodeSetSpeed(speed, accel, false))
}

// Stop brakes to a standstill.
func (v *Vehicle) Stop(decel int16) error {
	return v.SetSpeed(0, decel)
}

func (v *Vehicle) ChangeLane(horizontalSpeed, horizontalAccel uint16, offset float32) error {
	return v.send(protocol.EncodeChangeLane(horizontalSpeed, horizontalAccel, offset))
}

func (v *Vehicle) CancelLaneChange() error {
	return v.send(protocol.EncodeCancelLaneChange())
}

func (v *Vehicle) SetOffset(offset float32) error {
	return v.send(protocol.EncodeSetOffset(offset))
}

func (v *Vehicle) Turn(turn protocol.Turn, trigger protocol.TurnTrigger) error {
	return v.send(protocol.EncodeTurn(turn, trigger))
}

func (v *Vehicle) SetLight(light protocol.Light, on bool) error {
	frame, err := protocol.EncodeSetLight(light, on)
	if err != nil {
		return err
	}
	return v.send(frame)
}

func (v *Vehicle) SetAllLights(on bool) error {
	return v.send(protocol.EncodeSetAllLights(on))
}

func (v *Vehicle) SetLightsPattern(channels ...protocol.LightChannel) error {
	frame, err := protocol.EncodeLightsPatterns(channels...)
	if err != nil {
		return err
	}
	return v.send(frame)
}

func (v *Vehicle) Ping() error {
	return v.send(protocol.EncodePing())
}

func (v *Vehicle) RequestVersion() error {
	return v.send(protocol.EncodeVersionRequest())
}

func (v *Vehicle) RequestBattery() error {
	return v.send(protocol.EncodeBatteryRequest())
}
