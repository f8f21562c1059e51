package track

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/trackmesh/protocol"
	"github.com/kwv/trackmesh/vehicle"
)

func update(loc, id int, asc bool) protocol.PositionUpdate {
	typ, err := protocol.RoadPieceTypeFromID(id)
	if err != nil {
		panic(err)
	}
	return protocol.PositionUpdate{Location: loc, RoadPieceID: id, RoadPiece: typ, Ascending: asc}
}

func driveSession(t *testing.T, s *Session, obs ...observation) {
	t.Helper()
	for _, o := range obs {
		require.NoError(t, s.OnPositionUpdate(update(o.loc, o.id, true)))
	}
}

func TestSession_MapsAndCompletes(t *testing.T) {
	s := NewSession("skull")
	var added []TrackPiece
	var results []Result
	var piecesInHandler []TrackPiece
	s.SetPieceAddedHandler(func(id string, p TrackPiece) {
		assert.Equal(t, "skull", id)
		added = append(added, p)
	})
	s.SetCompleteHandler(func(r Result) {
		results = append(results, r)
		piecesInHandler = s.Pieces() // handlers run unlocked
	})

	assert.Equal(t, MapperIdle, s.State())
	s.Start()
	assert.Equal(t, MapperGathering, s.State())

	driveSession(t, s, ovalRun...)

	require.Len(t, results, 1)
	assert.Len(t, added, 6)
	assert.Equal(t, "skull", results[0].VehicleID)
	assert.Len(t, results[0].Pieces, 6)
	if diff := cmp.Diff(results[0].Pieces, piecesInHandler); diff != "" {
		t.Errorf("pieces mismatch (-result +session):\n%s", diff)
	}
	assert.Equal(t, MapperCompleted, s.State())
	assert.NotEmpty(t, results[0].Topology.Nodes)
}

func TestSession_Progress(t *testing.T) {
	s := NewSession("skull")
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	var updates []Progress
	s.SetProgressHandler(func(p Progress) { updates = append(updates, p) })

	s.Start()
	driveSession(t, s, ovalRun...)
	_, ok := s.Progress()
	assert.False(t, ok, "no progress until a position is resolved on the map")

	driveSession(t, s, observation{1, 36})
	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, 0, p.PieceIndex)
	assert.InDelta(t, 1.0/3.0, p.Progress, 1e-9)
	assert.Equal(t, int64(1700000000000), p.Timestamp)
	assert.Equal(t, "skull", p.VehicleID)

	driveSession(t, s, observation{10, 17}, observation{50, 23})
	p, _ = s.Progress()
	assert.Equal(t, 5, p.PieceIndex)
	assert.Zero(t, p.Laps)

	driveSession(t, s, observation{0, 36})
	p, _ = s.Progress()
	assert.Equal(t, 0, p.PieceIndex)
	assert.Equal(t, 1, p.Laps)
	assert.Len(t, updates, 4)
}

func TestSession_Restore(t *testing.T) {
	s := NewSession("skull")
	s.Restore([]TrackPiece{
		ranged(protocol.PieceStraight, 36, 0, 2),
		ranged(protocol.PieceCorner, 17, 10, 14),
	})
	assert.Equal(t, MapperCompleted, s.State())
	assert.Len(t, s.Pieces(), 2)

	require.NoError(t, s.OnPositionUpdate(update(12, 17, true)))
	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, 1, p.PieceIndex)
	assert.InDelta(t, 0.5, p.Progress, 1e-9)

	doc, ok := s.Document()
	require.True(t, ok)
	assert.Len(t, doc.Pieces, 2)

	s.Start()
	assert.Equal(t, MapperGathering, s.State())
	assert.Empty(t, s.Pieces())
	_, ok = s.Document()
	assert.False(t, ok)
}

func TestSession_DelocalizedRestartsMapping(t *testing.T) {
	s := NewSession("skull")
	s.Start()
	driveSession(t, s, observation{0, 36}, observation{10, 17})
	require.Len(t, s.Pieces(), 2)

	require.NoError(t, s.OnDelocalized())
	assert.Empty(t, s.Pieces())
	assert.Equal(t, MapperGathering, s.State())

	driveSession(t, s, observation{20, 18})
	pieces := s.Pieces()
	require.Len(t, pieces, 1)
	assert.Equal(t, Coordinate{}, pieces[0].Coordinate())
}

func TestSession_LinkLossPausesMapping(t *testing.T) {
	s := NewSession("skull")
	s.Start()
	driveSession(t, s, observation{0, 36})

	require.NoError(t, s.OnConnectionChange(false))
	assert.Equal(t, MapperIdle, s.State())
	driveSession(t, s, observation{10, 17})
	assert.Len(t, s.Pieces(), 1)

	require.NoError(t, s.OnConnectionChange(true))
	assert.Equal(t, MapperGathering, s.State())
	assert.Empty(t, s.Pieces())

	// A reconnect without a paused run leaves the state alone.
	idle := NewSession("groundshock")
	require.NoError(t, idle.OnConnectionChange(true))
	assert.Equal(t, MapperIdle, idle.State())
}

func TestSession_AttachToRouter(t *testing.T) {
	r := vehicle.NewRouter()
	s := NewSession("skull")
	require.NoError(t, s.Attach(r))
	assert.Equal(t, 1, r.Listeners(protocol.KindPositionUpdate))
	assert.Equal(t, 1, r.Listeners(protocol.KindDelocalized))
	assert.Equal(t, 1, r.Listeners(protocol.KindTransitionUpdate))
	s.Start()

	for _, o := range ovalRun {
		p := update(o.loc, o.id, true)
		require.NoError(t, r.Dispatch(protocol.Notification{Kind: protocol.KindPositionUpdate, Position: &p}))
	}
	require.NoError(t, r.Dispatch(protocol.Notification{Kind: protocol.KindTransitionUpdate, Transition: &protocol.TransitionUpdate{}}))

	assert.Equal(t, MapperCompleted, s.State())
	assert.Equal(t, 1, s.Transitions())

	doc, ok := s.Document()
	require.True(t, ok)
	assert.Equal(t, DocumentVersion, doc.Version)
	assert.Equal(t, Bounds{MinX: -1, MinY: -1, MaxX: 1, MaxY: 0}, doc.Bounds)
	assert.Equal(t, "skull", doc.VehicleID)
}

func TestSession_TopologyFollowsStream(t *testing.T) {
	s := NewSession("skull")
	for _, id := range []int{1, 2, 3, 4, 5, 6, 1} {
		require.NoError(t, s.OnPositionUpdate(protocol.PositionUpdate{Location: id, RoadPieceID: 36, RoadPiece: ovalTypes[id], Ascending: true}))
	}
	assert.Equal(t, ShapeOval, s.Topology().Shape)
}

// loopRun is ovalRun closing on the first location, so the analyzer sees the
// cycle at closure.
func loopRun() []observation {
	run := append([]observation(nil), ovalRun[:len(ovalRun)-1]...)
	return append(run, observation{0, 36})
}

func TestSession_TopologySettlesAtClosure(t *testing.T) {
	s := NewSession("skull")
	var results []Result
	s.SetCompleteHandler(func(r Result) { results = append(results, r) })
	s.Start()
	driveSession(t, s, loopRun()...)
	require.Len(t, results, 1)
	require.Equal(t, ShapeSimpleLoop, results[0].Topology.Shape)
	assert.Empty(t, s.analyzer.History())

	for range 100 {
		driveSession(t, s, loopRun()...)
	}
	assert.Empty(t, s.analyzer.History(), "a settled map stops recording transitions")
	assert.Equal(t, results[0].Topology, s.Topology())

	p, ok := s.Progress()
	require.True(t, ok)
	assert.Equal(t, 100, p.Laps)
	doc, ok := s.Document()
	require.True(t, ok)
	assert.Equal(t, ShapeSimpleLoop, doc.Shape)
}

func TestSession_RestoredMapSettlesAfterLap(t *testing.T) {
	mapped := NewSession("skull")
	mapped.Start()
	driveSession(t, mapped, loopRun()...)
	doc, ok := mapped.Document()
	require.True(t, ok)

	s := NewSession("skull")
	s.Restore(doc.Pieces)
	assert.Equal(t, ShapeUnknown, s.Topology().Shape)

	for range 10 {
		driveSession(t, s, loopRun()...)
	}
	assert.Empty(t, s.analyzer.History())
	assert.Equal(t, ShapeSimpleLoop, s.Topology().Shape)
}
