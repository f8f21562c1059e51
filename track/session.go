package track

import (
	"log"
	"sync"
	"time"

	"github.com/kwv/trackmesh/protocol"
	"github.com/kwv/trackmesh/vehicle"
)

// Progress is the live position of a vehicle on a finished map.
type Progress struct {
	VehicleID   string     `json:"vehicleId"`
	PieceIndex  int        `json:"pieceIndex"`
	Piece       TrackPiece `json:"piece"`
	Progress    float64    `json:"progress"`
	Location    int        `json:"location"`
	RoadPieceID int        `json:"roadPieceId"`
	Laps        int        `json:"laps"`
	Timestamp   int64      `json:"timestamp"`
}

// Result is handed to the completion handler when a map closes.
type Result struct {
	VehicleID string       `json:"vehicleId"`
	Pieces    []TrackPiece `json:"pieces"`
	Topology  Topology     `json:"topology"`
}

// settleLaps bounds how long a finished map keeps feeding the analyzer
// while its shape is still unknown.
const settleLaps = 2

// Session maps the track of one vehicle. It feeds every position update to a
// Mapper and an Analyzer, and once the loop closes it resolves updates
// through a SpatialIndex into live Progress.
//
// The topology of a finished map is settled once its shape is known, or
// after settleLaps laps, and the analyzer stops recording from then on.
//
// Handlers run on the event goroutine after the session lock is released, so
// they may call back into the session.
type Session struct {
	mu        sync.Mutex
	vehicleID string
	mapper    *Mapper
	analyzer  *Analyzer

	final       []TrackPiece
	index       *SpatialIndex
	topology    *Topology
	progress    *Progress
	lastIndex   int
	laps        int
	transitions int
	resume      bool

	// filled by mapper callbacks while mu is held
	added  []TrackPiece
	closed []TrackPiece

	onComplete   func(Result)
	onPieceAdded func(string, TrackPiece)
	onProgress   func(Progress)

	now func() time.Time
}

func NewSession(vehicleID string) *Session {
	s := &Session{
		vehicleID: vehicleID,
		mapper:    NewMapper(),
		analyzer:  NewAnalyzer(),
		lastIndex: -1,
		now:       time.Now,
	}
	s.mapper.SetPieceAddedHandler(func(p TrackPiece) { s.added = append(s.added, p) })
	s.mapper.SetLoopClosedHandler(func(p []TrackPiece) { s.closed = p })
	return s
}

func (s *Session) VehicleID() string { return s.vehicleID }

func (s *Session) SetCompleteHandler(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

func (s *Session) SetPieceAddedHandler(fn func(vehicleID string, p TrackPiece)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPieceAdded = fn
}

func (s *Session) SetProgressHandler(fn func(Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = fn
}

// Attach registers the session with a vehicle's router.
func (s *Session) Attach(r *vehicle.Router) error {
	return r.Add(s)
}

// Start begins a new mapping run, discarding any previous map.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapper.Start()
	s.analyzer.Reset()
	s.final = nil
	s.index = nil
	s.topology = nil
	s.progress = nil
	s.lastIndex = -1
	s.laps = 0
	s.resume = false
}

// Restore installs a previously saved map, so progress tracking works without
// driving a mapping lap first.
func (s *Session) Restore(pieces []TrackPiece) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapper.Reset()
	s.analyzer.Reset()
	s.final = clonePieces(pieces)
	s.index = NewSpatialIndex(s.final)
	s.topology = nil
	s.progress = nil
	s.lastIndex = -1
	s.laps = 0
}

func (s *Session) OnPositionUpdate(p protocol.PositionUpdate) error {
	s.mu.Lock()
	if s.topology == nil {
		s.analyzer.Discover(p.Location, p.RoadPiece)
		s.analyzer.LocationUpdate(p.Location, p.Ascending)
	}

	var result *Result
	var progress *Progress
	if s.mapper.State() == MapperGathering {
		s.mapper.OnPositionUpdate(p)
		if s.closed != nil {
			s.final = s.closed
			s.index = NewSpatialIndex(s.final)
			result = &Result{VehicleID: s.vehicleID, Pieces: clonePieces(s.final), Topology: s.analyzer.GetTopology()}
			s.closed = nil
			s.settle(result.Topology)
			log.Printf("[TRACK] %s: loop closed with %d pieces (%s)", s.vehicleID, len(s.final), result.Topology.Shape)
		}
	} else if s.index != nil {
		laps := s.laps
		progress = s.track(p)
		if s.topology == nil && s.laps != laps {
			s.settle(s.analyzer.GetTopology())
		}
	}

	added := s.added
	s.added = nil
	onComplete, onPieceAdded, onProgress := s.onComplete, s.onPieceAdded, s.onProgress
	s.mu.Unlock()

	if onPieceAdded != nil {
		for _, piece := range added {
			onPieceAdded(s.vehicleID, piece)
		}
	}
	if result != nil && onComplete != nil {
		onComplete(*result)
	}
	if progress != nil && onProgress != nil {
		onProgress(*progress)
	}
	return nil
}

// settle keeps t as the map's topology once it is conclusive and releases
// the analyzer history. Called with mu held.
func (s *Session) settle(t Topology) {
	if t.Shape == ShapeUnknown && s.laps < settleLaps {
		return
	}
	s.topology = &t
	s.analyzer.Reset()
}

// track resolves p on the finished map. Called with mu held.
func (s *Session) track(p protocol.PositionUpdate) *Progress {
	m, ok := s.index.LookupFrom(p.Location, p.RoadPieceID, s.lastIndex)
	if !ok {
		return nil
	}
	n := s.index.Len()
	if s.lastIndex >= 0 && m.Index < s.lastIndex && s.lastIndex-m.Index > n/2 {
		s.laps++
	}
	s.lastIndex = m.Index
	s.progress = &Progress{
		VehicleID:   s.vehicleID,
		PieceIndex:  m.Index,
		Piece:       m.Piece,
		Progress:    m.Progress,
		Location:    p.Location,
		RoadPieceID: p.RoadPieceID,
		Laps:        s.laps,
		Timestamp:   s.now().UnixMilli(),
	}
	cp := *s.progress
	return &cp
}

// OnDelocalized breaks the location chain. A mapping run in progress cannot
// trust its dead-reckoned position any more and starts over.
func (s *Session) OnDelocalized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer.Break()
	s.lastIndex = -1
	if s.mapper.State() == MapperGathering {
		log.Printf("[TRACK] %s: delocalized while mapping, restarting run", s.vehicleID)
		s.mapper.Start()
	}
	return nil
}

func (s *Session) OnTransitionUpdate(protocol.TransitionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions++
	return nil
}

// OnConnectionChange pauses a mapping run while the link is down and restarts
// it on reconnect.
func (s *Session) OnConnectionChange(connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !connected && s.mapper.State() == MapperGathering:
		log.Printf("[TRACK] %s: link lost while mapping", s.vehicleID)
		s.mapper.Stop()
		s.analyzer.Break()
		s.resume = true
	case !connected:
		s.analyzer.Break()
	case s.resume:
		s.mapper.Start()
		s.resume = false
	}
	return nil
}

// State reports Completed as soon as a map is available, including a restored
// one.
func (s *Session) State() MapperState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		return MapperCompleted
	}
	return s.mapper.State()
}

// Pieces returns the finished map, or the pieces found so far.
func (s *Session) Pieces() []TrackPiece {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return clonePieces(s.final)
	}
	return s.mapper.Pieces()
}

func (s *Session) Topology() Topology {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTopology()
}

// currentTopology is the settled topology, or the one analyzed so far.
// Called with mu held.
func (s *Session) currentTopology() Topology {
	if s.topology != nil {
		return *s.topology
	}
	return s.analyzer.GetTopology()
}

func (s *Session) Progress() (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return Progress{}, false
	}
	return *s.progress, true
}

func (s *Session) Transitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions
}

// Document returns the map as a persistable document, or false while no map
// is finished.
func (s *Session) Document() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return Document{}, false
	}
	return NewDocument(s.vehicleID, s.final, s.currentTopology().Shape, s.now()), true
}
