package track

import "github.com/kwv/trackmesh/protocol"

// MinLoopPieces is the number of pieces that must exist before returning to
// the first piece counts as closing the loop.
const MinLoopPieces = 4

// MapperState is the state of a Mapper run.
type MapperState int

const (
	MapperIdle MapperState = iota
	MapperGathering
	MapperCompleted
)

func (s MapperState) String() string {
	switch s {
	case MapperGathering:
		return "gathering"
	case MapperCompleted:
		return "completed"
	}
	return "idle"
}

// Mapper builds a grid map of the track by dead reckoning: every new physical
// segment advances one cell along the current heading, and corners turn the
// heading by 90 degrees.
//
// A Mapper is driven by a single event stream and is not safe for concurrent
// use.
//
// An observation that exactly repeats the previous one (same location and
// same road piece id) is dropped before segment classification, so a
// repeated report never adds a piece.
//
// Known approximation: a genuinely new piece whose dead-reckoned cell is
// already occupied is treated as a revisit of the existing piece, so heading
// drift can hide a piece.
type Mapper struct {
	state     MapperState
	pieces    []TrackPiece
	pos       Coordinate
	heading   Heading
	ascending bool
	current   int

	// previous observation
	havePrev     bool
	prevLocation int
	prevPieceID  int
	prevType     protocol.RoadPieceType

	onPieceAdded func(TrackPiece)
	onLoopClosed func([]TrackPiece)
}

// NewMapper returns an idle mapper.
func NewMapper() *Mapper {
	return &Mapper{ascending: true, current: -1}
}

// SetPieceAddedHandler registers fn, called once per appended piece.
func (m *Mapper) SetPieceAddedHandler(fn func(TrackPiece)) { m.onPieceAdded = fn }

// SetLoopClosedHandler registers fn, called once with the final piece list
// when the loop closes.
func (m *Mapper) SetLoopClosedHandler(fn func([]TrackPiece)) { m.onLoopClosed = fn }

// Start begins a new run from any state.
func (m *Mapper) Start() {
	m.clear()
	m.state = MapperGathering
}

// Stop pauses gathering. The pieces found so far are kept.
func (m *Mapper) Stop() {
	if m.state == MapperGathering {
		m.state = MapperIdle
	}
}

// Reset returns to idle and forgets everything.
func (m *Mapper) Reset() {
	m.clear()
	m.ascending = true
	m.state = MapperIdle
}

func (m *Mapper) clear() {
	m.pieces = nil
	m.pos = Coordinate{}
	m.heading = East
	m.current = -1
	m.havePrev = false
}

func (m *Mapper) State() MapperState { return m.state }

// Pieces returns a snapshot of the pieces in discovery order.
func (m *Mapper) Pieces() []TrackPiece { return clonePieces(m.pieces) }

// Position returns the dead-reckoned cell and heading.
func (m *Mapper) Position() (Coordinate, Heading) { return m.pos, m.heading }

// Current returns the index of the piece the vehicle is on, or -1.
func (m *Mapper) Current() int { return m.current }

// OnLocationUpdate records the travel direction. It is the authoritative
// source of the ascending flag.
func (m *Mapper) OnLocationUpdate(location int, ascending bool) {
	m.ascending = ascending
}

// OnPositionUpdate feeds one decoded position update to the mapper.
func (m *Mapper) OnPositionUpdate(p protocol.PositionUpdate) error {
	m.OnLocationUpdate(p.Location, p.Ascending)
	m.OnPieceDiscovered(p.Location, p.RoadPieceID, p.RoadPiece)
	return nil
}

// OnPieceDiscovered processes one (location, road piece) observation. It is
// ignored unless the mapper is gathering.
func (m *Mapper) OnPieceDiscovered(location, roadPieceID int, t protocol.RoadPieceType) {
	if m.state != MapperGathering {
		return
	}
	if m.havePrev && location == m.prevLocation && roadPieceID == m.prevPieceID {
		return
	}

	isNew := !m.havePrev || m.isNewSegment(location, t)
	m.havePrev = true
	m.prevLocation, m.prevPieceID, m.prevType = location, roadPieceID, t

	if !isNew {
		if m.current >= 0 {
			m.pieces[m.current].include(location)
		}
		return
	}
	m.place(location, roadPieceID, t)
}

// isNewSegment decides whether an observation is on a different physical
// segment than the previous one.
func (m *Mapper) isNewSegment(location int, t protocol.RoadPieceType) bool {
	if m.prevType.IsStartFinish() && t.IsStartFinish() && m.prevType != t {
		return false
	}
	if m.prevType.Normalize() != t.Normalize() {
		return true
	}
	step := 1
	if !m.ascending {
		step = -1
	}
	return location != m.prevLocation+step
}

func (m *Mapper) place(location, roadPieceID int, t protocol.RoadPieceType) {
	if len(m.pieces) == 0 {
		m.pos = Coordinate{}
		m.heading = East
		if t == protocol.PieceCorner {
			if m.ascending {
				m.heading = North
			} else {
				m.heading = South
			}
		}
		m.appendPiece(location, roadPieceID, t, m.heading)
		return
	}

	enter := m.heading
	m.pos = m.pos.Add(m.heading.Step())
	if t == protocol.PieceCorner {
		if m.ascending {
			m.heading = m.heading.Rotate(-90)
		} else {
			m.heading = m.heading.Rotate(90)
		}
	}

	if m.pos == m.pieces[0].Coordinate() && len(m.pieces) >= MinLoopPieces {
		m.current = 0
		if m.pieces[0].RoadPieceID == roadPieceID {
			m.pieces[0].include(location)
		}
		m.state = MapperCompleted
		if m.onLoopClosed != nil {
			m.onLoopClosed(m.Pieces())
		}
		return
	}

	if i := m.indexAt(m.pos); i >= 0 {
		// Revisit, e.g. an intersection crossed a second time.
		m.current = i
		if m.pieces[i].RoadPieceID == roadPieceID {
			m.pieces[i].include(location)
		}
		return
	}

	m.appendPiece(location, roadPieceID, t, enter)
}

func (m *Mapper) appendPiece(location, roadPieceID int, t protocol.RoadPieceType, enter Heading) {
	p := TrackPiece{
		X:           m.pos.X,
		Y:           m.pos.Y,
		Type:        t,
		RoadPieceID: roadPieceID,
		Enter:       enter,
		Exit:        m.heading,
	}
	p.include(location)
	m.pieces = append(m.pieces, p)
	m.current = len(m.pieces) - 1
	if m.onPieceAdded != nil {
		m.onPieceAdded(p)
	}
}

func (m *Mapper) indexAt(c Coordinate) int {
	for i, p := range m.pieces {
		if p.Coordinate() == c {
			return i
		}
	}
	return -1
}
