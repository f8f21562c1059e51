package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Light selects one of the vehicle's light groups.
type Light uint8

const (
	LightHeadlights Light = iota
	LightBrakelights
	LightFrontlights
	LightEngine
)

// Turn is the kind of turn requested by EncodeTurn.
type Turn uint8

const (
	TurnNone Turn = iota
	TurnLeft
	TurnRight
	TurnUTurn
	TurnUTurnJump
)

// TurnTrigger selects when a requested turn is executed.
type TurnTrigger uint8

const (
	TriggerImmediate TurnTrigger = iota
	TriggerIntersection
)

// LightEffect is the animation of one light channel.
type LightEffect uint8

const (
	EffectSteady LightEffect = iota
	EffectFade
	EffectThrob
	EffectFlash
	EffectRandom
)

// LightChannel configures one channel of a lights pattern.
type LightChannel struct {
	Channel         uint8
	Effect          LightEffect
	Start           uint8
	End             uint8
	CyclesPer10Secs uint8
}

// MaxLightChannels is the number of channels a single pattern frame carries.
const MaxLightChannels = 3

// frame allocates [length, id, payload...] with the length byte filled in.
func frame(id byte, payloadLen int) []byte {
	b := make([]byte, 2+payloadLen)
	b[0] = byte(1 + payloadLen)
	b[1] = id
	return b
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// EncodeSetSpeed sets the target speed in mm/s with the given acceleration in
// mm/s². respectLimit makes the vehicle obey per-piece speed limits.
func EncodeSetSpeed(speed, accel int16, respectLimit bool) []byte {
	b := frame(MsgSetSpeed, 5)
	binary.LittleEndian.PutUint16(b[2:], uint16(speed))
	binary.LittleEndian.PutUint16(b[4:], uint16(accel))
	b[6] = boolByte(respectLimit)
	return b
}

// EncodeChangeLane moves the vehicle to offset mm from the road center.
func EncodeChangeLane(horizontalSpeed, horizontalAccel uint16, offset float32) []byte {
	b := frame(MsgChangeLane, 10)
	binary.LittleEndian.PutUint16(b[2:], horizontalSpeed)
	binary.LittleEndian.PutUint16(b[4:], horizontalAccel)
	putFloat32(b[6:], offset)
	// b[10] hop intent and b[11] tag stay zero.
	return b
}

// EncodeCancelLaneChange aborts a lane change in progress.
func EncodeCancelLaneChange() []byte {
	return frame(MsgCancelLaneChange, 0)
}

// EncodeSetOffset calibrates the vehicle's notion of its current offset from
// the road center.
func EncodeSetOffset(offset float32) []byte {
	b := frame(MsgSetOffset, 4)
	putFloat32(b[2:], offset)
	return b
}

// EncodeDisconnect asks the vehicle to drop the link.
func EncodeDisconnect() []byte {
	return frame(MsgDisconnect, 0)
}

// EncodeSetLight switches a single light group. The high nibble of the mask
// selects which groups are changed, the low nibble holds their new values.
func EncodeSetLight(light Light, on bool) ([]byte, error) {
	if light > LightEngine {
		return nil, fmt.Errorf("%w: unknown light group %d", ErrInvalidCommand, light)
	}
	b := frame(MsgSetLights, 1)
	mask := byte(1) << (4 + light)
	if on {
		mask |= 1 << light
	}
	b[2] = mask
	return b, nil
}

// EncodeSetAllLights switches every light group.
func EncodeSetAllLights(on bool) []byte {
	b := frame(MsgSetLights, 1)
	b[2] = 0xF0
	if on {
		b[2] |= 0x0F
	}
	return b
}

// EncodeTurn requests a turn, either now or at the next intersection.
func EncodeTurn(turn Turn, trigger TurnTrigger) []byte {
	b := frame(MsgTurn, 2)
	b[2] = byte(turn)
	b[3] = byte(trigger)
	return b
}

// EncodePing requests a PingResponse.
func EncodePing() []byte {
	return frame(MsgPingRequest, 0)
}

// EncodeVersionRequest requests a VersionResponse.
func EncodeVersionRequest() []byte {
	return frame(MsgVersionRequest, 0)
}

// EncodeBatteryRequest requests a Battery notification.
func EncodeBatteryRequest() []byte {
	return frame(MsgBatteryRequest, 0)
}

// EncodeSDKMode toggles SDK mode. The firmware ignores driving commands until
// SDK mode is on.
func EncodeSDKMode(on bool) []byte {
	b := frame(MsgSDKMode, 2)
	b[2] = boolByte(on)
	b[3] = 0x01 // override localization
	return b
}

// EncodeLightsPattern configures a single light channel.
func EncodeLightsPattern(ch LightChannel) []byte {
	b, _ := EncodeLightsPatterns(ch)
	return b
}

// EncodeLightsPatterns configures up to MaxLightChannels channels in one frame.
func EncodeLightsPatterns(channels ...LightChannel) ([]byte, error) {
	if len(channels) == 0 || len(channels) > MaxLightChannels {
		return nil, fmt.Errorf("%w: lights pattern needs 1..%d channels, got %d",
			ErrInvalidCommand, MaxLightChannels, len(channels))
	}
	b := frame(MsgLightsPattern, 1+5*len(channels))
	b[2] = byte(len(channels))
	for i, ch := range channels {
		off := 3 + 5*i
		b[off] = ch.Channel
		b[off+1] = byte(ch.Effect)
		b[off+2] = ch.Start
		b[off+3] = ch.End
		b[off+4] = ch.CyclesPer10Secs
	}
	return b, nil
}
