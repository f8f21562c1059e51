// Package protocol implements the binary frame codec spoken by the vehicles:
// command encoders, the inbound notification decoder and the road piece table.
//
// Every frame has the layout [length, msgID, payload...] where length counts
// the id byte plus the payload. Multi-byte fields are little-endian and floats
// are IEEE-754 single precision.
package protocol

import "fmt"

// Message ids, host to vehicle.
const (
	MsgDisconnect       byte = 0x0D
	MsgPingRequest      byte = 0x16
	MsgVersionRequest   byte = 0x18
	MsgBatteryRequest   byte = 0x1A
	MsgSetLights        byte = 0x1D
	MsgSetSpeed         byte = 0x24
	MsgChangeLane       byte = 0x25
	MsgCancelLaneChange byte = 0x26
	MsgSetOffset        byte = 0x2C
	MsgTurn             byte = 0x32
	MsgLightsPattern    byte = 0x33
	MsgSDKMode          byte = 0x90
)

// Message ids, vehicle to host.
const (
	MsgPingResponse       byte = 0x17
	MsgVersionResponse    byte = 0x19
	MsgBatteryResponse    byte = 0x1B
	MsgPositionUpdate     byte = 0x27
	MsgTransitionUpdate   byte = 0x29
	MsgIntersectionUpdate byte = 0x2A
	MsgDelocalized        byte = 0x2B
	MsgOffsetUpdate       byte = 0x2D
	MsgChargerInfo        byte = 0x3F
)

var messageNames = map[byte]string{
	MsgDisconnect:         "disconnect",
	MsgPingRequest:        "ping request",
	MsgPingResponse:       "ping response",
	MsgVersionRequest:     "version request",
	MsgVersionResponse:    "version response",
	MsgBatteryRequest:     "battery request",
	MsgBatteryResponse:    "battery response",
	MsgSetLights:          "set lights",
	MsgSetSpeed:           "set speed",
	MsgChangeLane:         "change lane",
	MsgCancelLaneChange:   "cancel lane change",
	MsgPositionUpdate:     "position update",
	MsgTransitionUpdate:   "transition update",
	MsgIntersectionUpdate: "intersection update",
	MsgDelocalized:        "delocalized",
	MsgSetOffset:          "set offset",
	MsgOffsetUpdate:       "offset update",
	MsgTurn:               "turn",
	MsgLightsPattern:      "lights pattern",
	MsgChargerInfo:        "charger info",
	MsgSDKMode:            "sdk mode",
}

// MessageName returns a human readable name for a message id.
func MessageName(id byte) string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", id)
}
