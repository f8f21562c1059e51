package track

import "github.com/kwv/trackmesh/protocol"

// Match is a resolved position on a finished map.
type Match struct {
	Piece    TrackPiece `json:"piece"`
	Index    int        `json:"index"`
	Progress float64    `json:"progress"`
}

type spatialKey struct {
	location    int
	roadPieceID int
}

// SpatialIndex maps (location id, road piece id) observations on a finished
// map to a piece and the progress along it. It is immutable after
// construction and safe for concurrent reads.
type SpatialIndex struct {
	pieces []TrackPiece
	exact  map[spatialKey][]Match
}

// NewSpatialIndex indexes every location in the range of each piece. Pieces
// without a range are reachable only through the nearest-piece fallbacks.
func NewSpatialIndex(pieces []TrackPiece) *SpatialIndex {
	idx := &SpatialIndex{
		pieces: clonePieces(pieces),
		exact:  make(map[spatialKey][]Match),
	}
	for i, p := range idx.pieces {
		if !p.HasRange {
			continue
		}
		for loc := p.StartLocation; loc <= p.EndLocation; loc++ {
			k := spatialKey{loc, p.RoadPieceID}
			idx.exact[k] = append(idx.exact[k], Match{Piece: p, Index: i, Progress: p.progress(loc)})
		}
	}
	return idx
}

func (s *SpatialIndex) Len() int { return len(s.pieces) }

// Lookup resolves an observation. It tries, in order: an exact match, the
// aliased start/finish id, the nearest piece with the same road piece id, the
// nearest piece of the same type and finally the nearest piece overall. Types
// are compared as reported, so Start and Finish never match a Straight. It
// fails only on an empty map.
func (s *SpatialIndex) Lookup(location, roadPieceID int) (Match, bool) {
	return s.LookupFrom(location, roadPieceID, -1)
}

// LookupFrom is Lookup with a hint: when several pieces share the exact key,
// the first one at or after last+1 in travel order wins, so a vehicle that
// passes the same straight id twice per lap is tracked continuously.
func (s *SpatialIndex) LookupFrom(location, roadPieceID, last int) (Match, bool) {
	if len(s.pieces) == 0 {
		return Match{}, false
	}
	if m, ok := s.exactMatch(location, roadPieceID, last); ok {
		return m, true
	}
	if alias, ok := protocol.AliasRoadPieceID(roadPieceID); ok {
		if m, ok := s.exactMatch(location, alias, last); ok {
			return m, true
		}
	}
	if m, ok := s.nearest(location, func(p TrackPiece) bool { return p.RoadPieceID == roadPieceID }); ok {
		return m, true
	}
	if t, err := protocol.RoadPieceTypeFromID(roadPieceID); err == nil {
		if m, ok := s.nearest(location, func(p TrackPiece) bool { return p.Type == t }); ok {
			return m, true
		}
	}
	return s.nearest(location, func(TrackPiece) bool { return true })
}

func (s *SpatialIndex) exactMatch(location, roadPieceID, last int) (Match, bool) {
	ms := s.exact[spatialKey{location, roadPieceID}]
	switch {
	case len(ms) == 0:
		return Match{}, false
	case len(ms) == 1 || last < 0:
		return ms[0], true
	}
	n := len(s.pieces)
	best, bestDist := ms[0], n+1
	for _, m := range ms {
		if d := ((m.Index-last-1)%n + n) % n; d < bestDist {
			best, bestDist = m, d
		}
	}
	return best, true
}

// nearest picks the matching piece whose range is closest to location. Ties
// go to the earliest piece; pieces without a range tie at the end.
func (s *SpatialIndex) nearest(location int, keep func(TrackPiece) bool) (Match, bool) {
	best, bestDist := -1, 0
	for i, p := range s.pieces {
		if !keep(p) {
			continue
		}
		if d := p.rangeDistance(location); best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Match{}, false
	}
	p := s.pieces[best]
	return Match{Piece: p, Index: best, Progress: p.progress(location)}, true
}
