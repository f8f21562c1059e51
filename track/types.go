// Package track infers the layout of a track from the position stream of a
// vehicle: a dead-reckoning mapper, a graph topology analyzer, a spatial
// lookup index over finished maps, and the session that wires them together.
package track

import (
	"fmt"

	"github.com/kwv/trackmesh/protocol"
)

// Heading is a cardinal direction in degrees, counter-clockwise from East.
type Heading int

const (
	East  Heading = 0
	North Heading = 90
	West  Heading = 180
	South Heading = 270
)

// Rotate turns h by deg degrees, positive counter-clockwise.
func (h Heading) Rotate(deg int) Heading {
	return Heading(((int(h)+deg)%360 + 360) % 360)
}

// Step returns the grid offset of one unit of travel along h.
func (h Heading) Step() (dx, dy int) {
	switch h {
	case East:
		return 1, 0
	case North:
		return 0, 1
	case West:
		return -1, 0
	case South:
		return 0, -1
	}
	return 0, 0
}

func (h Heading) String() string {
	switch h {
	case East:
		return "E"
	case North:
		return "N"
	case West:
		return "W"
	case South:
		return "S"
	}
	return fmt.Sprintf("%d°", int(h))
}

// Coordinate is a cell on the track grid. One cell holds one piece.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinate) Add(dx, dy int) Coordinate {
	return Coordinate{X: c.X + dx, Y: c.Y + dy}
}

// TrackPiece is one physical segment found by the mapper.
type TrackPiece struct {
	X           int                    `json:"x"`
	Y           int                    `json:"y"`
	Type        protocol.RoadPieceType `json:"type"`
	RoadPieceID int                    `json:"roadPieceId"`
	Enter       Heading                `json:"enter"`
	Exit        Heading                `json:"exit"`

	// Location codes read on this piece. Valid only when HasRange is set.
	HasRange      bool `json:"hasRange"`
	StartLocation int  `json:"startLocation"`
	EndLocation   int  `json:"endLocation"`
}

func (p TrackPiece) Coordinate() Coordinate {
	return Coordinate{X: p.X, Y: p.Y}
}

// include widens the location range to cover loc.
func (p *TrackPiece) include(loc int) {
	if !p.HasRange {
		p.HasRange = true
		p.StartLocation, p.EndLocation = loc, loc
		return
	}
	if loc < p.StartLocation {
		p.StartLocation = loc
	}
	if loc > p.EndLocation {
		p.EndLocation = loc
	}
}

// rangeDistance is 0 inside the location range and the distance to the
// nearest end outside it. Pieces without a range are infinitely far.
func (p TrackPiece) rangeDistance(loc int) int {
	switch {
	case !p.HasRange:
		return maxDistance
	case loc < p.StartLocation:
		return p.StartLocation - loc
	case loc > p.EndLocation:
		return loc - p.EndLocation
	}
	return 0
}

// progress interpolates loc linearly over the range, clamped to [0,1].
func (p TrackPiece) progress(loc int) float64 {
	if !p.HasRange || p.EndLocation == p.StartLocation {
		return 0
	}
	f := float64(loc-p.StartLocation) / float64(p.EndLocation-p.StartLocation)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

const maxDistance = int(^uint(0) >> 1)

func clonePieces(pieces []TrackPiece) []TrackPiece {
	if pieces == nil {
		return nil
	}
	out := make([]TrackPiece, len(pieces))
	copy(out, pieces)
	return out
}
