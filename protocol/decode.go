package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Minimum frame sizes, header included, for each decoded message.
const (
	minPositionUpdate     = 11
	minTransitionUpdate   = 8
	minIntersectionUpdate = 9
	minChargerInfo        = 6
	minBattery            = 4
	minVersionResponse    = 4
	minOffsetUpdate       = 7
	minHeaderOnly         = 2

	transitionWheelDistances = 18

	// parsingFlagReverse is set in a position update while the vehicle reads
	// location codes in descending order.
	parsingFlagReverse = 0x40
)

// Decode parses one inbound frame. Unknown message ids decode to KindDefault
// and never fail; recognized ids are checked against both the length byte and
// the real slice length before any field is read.
func Decode(data []byte) (Notification, error) {
	if len(data) < minHeaderOnly {
		return Notification{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(data), minHeaderOnly)
	}

	id := data[1]
	switch id {
	case MsgPositionUpdate:
		f, err := checked(data, minPositionUpdate)
		if err != nil {
			return Notification{}, err
		}
		return decodePosition(f)

	case MsgTransitionUpdate:
		f, err := checked(data, minTransitionUpdate)
		if err != nil {
			return Notification{}, err
		}
		return decodeTransition(f)

	case MsgIntersectionUpdate:
		f, err := checked(data, minIntersectionUpdate)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindIntersectionUpdate, Intersection: &IntersectionUpdate{
			RoadPieceIndex: int(int8(f[2])),
			Offset:         float32At(f, 3),
			Code:           f[7],
			Exiting:        f[8] != 0,
		}}, nil

	case MsgChargerInfo:
		f, err := checked(data, minChargerInfo)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindChargerInfo, Charger: &ChargerInfo{
			OnTrack:     f[2] != 0,
			OnCharger:   f[3] != 0,
			BatteryLow:  f[4] != 0,
			BatteryFull: f[5] != 0,
		}}, nil

	case MsgBatteryResponse:
		f, err := checked(data, minBattery)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindBattery, Battery: &Battery{
			Millivolts: binary.LittleEndian.Uint16(f[2:4]),
		}}, nil

	case MsgPingResponse:
		if _, err := checked(data, minHeaderOnly); err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindPingResponse}, nil

	case MsgVersionResponse:
		f, err := checked(data, minVersionResponse)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindVersionResponse, Version: &VersionResponse{
			Version: binary.LittleEndian.Uint16(f[2:4]),
		}}, nil

	case MsgDelocalized:
		if _, err := checked(data, minHeaderOnly); err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindDelocalized}, nil

	case MsgOffsetUpdate:
		f, err := checked(data, minOffsetUpdate)
		if err != nil {
			return Notification{}, err
		}
		return Notification{Kind: KindOffsetUpdate, Offset: &OffsetUpdate{
			Offset:       float32At(f, 2),
			LaneChangeID: f[6],
		}}, nil
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return Notification{Kind: KindDefault, Raw: raw}, nil
}

// checked validates the length byte against the slice and the message's
// minimum size, and returns the frame trimmed to its declared length.
func checked(data []byte, minSize int) ([]byte, error) {
	declared := int(data[0]) + 1
	if declared < minHeaderOnly {
		return nil, fmt.Errorf("%w: %s declares length %d", ErrMalformedFrame, MessageName(data[1]), data[0])
	}
	if declared > len(data) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, got %d", ErrMalformedFrame, MessageName(data[1]), declared, len(data))
	}
	if declared < minSize {
		return nil, fmt.Errorf("%w: %s has %d bytes, need %d", ErrMalformedFrame, MessageName(data[1]), declared, minSize)
	}
	return data[:declared], nil
}

func float32At(f []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(f[off : off+4]))
}

func decodePosition(f []byte) (Notification, error) {
	pieceID := int(f[3])
	piece, err := RoadPieceTypeFromID(pieceID)
	if err != nil {
		return Notification{}, fmt.Errorf("decoding position update: %w", err)
	}
	return Notification{Kind: KindPositionUpdate, Position: &PositionUpdate{
		Location:    int(int8(f[2])),
		RoadPieceID: pieceID,
		RoadPiece:   piece,
		Ascending:   f[10]&parsingFlagReverse == 0,
		Offset:      float32At(f, 4),
		Speed:       binary.LittleEndian.Uint16(f[8:10]),
	}}, nil
}

func decodeTransition(f []byte) (Notification, error) {
	// The current and previous piece index fields are always zero on the
	// firmware we know about.
	if f[2] != 0 || f[3] != 0 {
		return Notification{}, fmt.Errorf("%w: transition update reserved bytes are 0x%02X 0x%02X",
			ErrProtocolAssumptionViolated, f[2], f[3])
	}
	tu := &TransitionUpdate{Offset: float32At(f, 4)}
	if len(f) >= transitionWheelDistances {
		tu.LeftWheelDistance = f[16]
		tu.RightWheelDistance = f[17]
	}
	return Notification{Kind: KindTransitionUpdate, Transition: tu}, nil
}
