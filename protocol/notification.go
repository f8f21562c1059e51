package protocol

// Kind is the discriminant of a Notification.
type Kind uint8

const (
	KindDefault Kind = iota
	KindPositionUpdate
	KindTransitionUpdate
	KindIntersectionUpdate
	KindChargerInfo
	KindBattery
	KindPingResponse
	KindVersionResponse
	KindDelocalized
	KindOffsetUpdate
	// KindConnected reports a link state change. Decode never produces it.
	KindConnected

	numKinds
)

// NumKinds is the number of notification kinds, for tables indexed by Kind.
const NumKinds = int(numKinds)

func (k Kind) String() string {
	switch k {
	case KindPositionUpdate:
		return "PositionUpdate"
	case KindTransitionUpdate:
		return "TransitionUpdate"
	case KindIntersectionUpdate:
		return "IntersectionUpdate"
	case KindChargerInfo:
		return "ChargerInfo"
	case KindBattery:
		return "Battery"
	case KindPingResponse:
		return "PingResponse"
	case KindVersionResponse:
		return "VersionResponse"
	case KindDelocalized:
		return "Delocalized"
	case KindOffsetUpdate:
		return "OffsetUpdate"
	case KindConnected:
		return "Connected"
	}
	return "Default"
}

// PositionUpdate is sent each time the vehicle reads a location code.
type PositionUpdate struct {
	Location    int           `json:"location"`
	RoadPieceID int           `json:"roadPieceId"`
	RoadPiece   RoadPieceType `json:"roadPiece"`
	Ascending   bool          `json:"ascending"`
	Offset      float32       `json:"offset"`
	Speed       uint16        `json:"speed"`
}

// TransitionUpdate is sent when the vehicle crosses from one piece to the next.
type TransitionUpdate struct {
	Offset             float32 `json:"offset"`
	LeftWheelDistance  uint8   `json:"leftWheelDistance"`
	RightWheelDistance uint8   `json:"rightWheelDistance"`
}

// IntersectionUpdate is sent while passing an intersection piece.
type IntersectionUpdate struct {
	RoadPieceIndex int     `json:"roadPieceIndex"`
	Offset         float32 `json:"offset"`
	Code           uint8   `json:"code"`
	Exiting        bool    `json:"exiting"`
}

// ChargerInfo reports track and charger state.
type ChargerInfo struct {
	OnTrack     bool `json:"onTrack"`
	OnCharger   bool `json:"onCharger"`
	BatteryLow  bool `json:"batteryLow"`
	BatteryFull bool `json:"batteryFull"`
}

// Battery carries the battery level in millivolts.
type Battery struct {
	Millivolts uint16 `json:"millivolts"`
}

// VersionResponse carries the firmware version.
type VersionResponse struct {
	Version uint16 `json:"version"`
}

// OffsetUpdate reports the lateral offset from the road center.
type OffsetUpdate struct {
	Offset       float32 `json:"offset"`
	LaneChangeID uint8   `json:"laneChangeId"`
}

// ConnectionChange is the payload of KindConnected.
type ConnectionChange struct {
	Connected bool `json:"connected"`
}

// Notification is a decoded inbound frame. Kind selects which payload field is
// set; the others are nil. PingResponse and Delocalized carry no payload.
type Notification struct {
	Kind Kind

	Position     *PositionUpdate
	Transition   *TransitionUpdate
	Intersection *IntersectionUpdate
	Charger      *ChargerInfo
	Battery      *Battery
	Version      *VersionResponse
	Offset       *OffsetUpdate
	Connection   *ConnectionChange

	// Raw holds the frame bytes for KindDefault.
	Raw []byte
}

// Connected builds the notification dispatched on link state changes.
func Connected(connected bool) Notification {
	return Notification{Kind: KindConnected, Connection: &ConnectionChange{Connected: connected}}
}
