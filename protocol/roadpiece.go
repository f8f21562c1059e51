package protocol

import (
	"encoding/json"
	"fmt"
)

// RoadPieceType classifies a physical track section.
type RoadPieceType uint8

const (
	// PieceUnknown marks a piece whose type has not been observed yet. It is
	// never returned by RoadPieceTypeFromID.
	PieceUnknown RoadPieceType = iota
	PieceStart
	PieceFinish
	PieceStraight
	PieceCorner
	PieceIntersection
)

// Start and finish ids of the start/finish line piece. Both ids belong to the
// same physical segment.
const (
	RoadPieceIDStart  = 33
	RoadPieceIDFinish = 34
)

var roadPieceTypes = map[int]RoadPieceType{
	10: PieceIntersection,
	17: PieceCorner,
	18: PieceCorner,
	20: PieceCorner,
	23: PieceCorner,
	24: PieceCorner,
	27: PieceCorner,
	33: PieceStart,
	34: PieceFinish,
	36: PieceStraight,
	39: PieceStraight,
	40: PieceStraight,
	48: PieceStraight,
	51: PieceStraight,
}

// RoadPieceTypeFromID maps a numeric road piece id to its type.
func RoadPieceTypeFromID(id int) (RoadPieceType, error) {
	t, ok := roadPieceTypes[id]
	if !ok {
		return PieceUnknown, fmt.Errorf("%w: id %d", ErrUnknownRoadPiece, id)
	}
	return t, nil
}

// AliasRoadPieceID returns the paired id of the start/finish piece. Any other
// id has no alias.
func AliasRoadPieceID(id int) (int, bool) {
	switch id {
	case RoadPieceIDStart:
		return RoadPieceIDFinish, true
	case RoadPieceIDFinish:
		return RoadPieceIDStart, true
	}
	return 0, false
}

// Normalize folds Start and Finish into Straight.
func (t RoadPieceType) Normalize() RoadPieceType {
	if t == PieceStart || t == PieceFinish {
		return PieceStraight
	}
	return t
}

// IsStartFinish reports whether t is either half of the start/finish piece.
func (t RoadPieceType) IsStartFinish() bool {
	return t == PieceStart || t == PieceFinish
}

func (t RoadPieceType) String() string {
	switch t {
	case PieceStart:
		return "START"
	case PieceFinish:
		return "FINISH"
	case PieceStraight:
		return "STRAIGHT"
	case PieceCorner:
		return "CORNER"
	case PieceIntersection:
		return "INTERSECTION"
	}
	return "UNKNOWN"
}

// MarshalJSON encodes the type by name.
func (t RoadPieceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name written by MarshalJSON.
func (t *RoadPieceType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRoadPieceType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseRoadPieceType is the inverse of RoadPieceType.String.
func ParseRoadPieceType(name string) (RoadPieceType, error) {
	switch name {
	case "START":
		return PieceStart, nil
	case "FINISH":
		return PieceFinish, nil
	case "STRAIGHT":
		return PieceStraight, nil
	case "CORNER":
		return PieceCorner, nil
	case "INTERSECTION":
		return PieceIntersection, nil
	case "UNKNOWN", "":
		return PieceUnknown, nil
	}
	return PieceUnknown, fmt.Errorf("unknown road piece type %q", name)
}
