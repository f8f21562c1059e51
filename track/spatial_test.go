package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/trackmesh/protocol"
)

func ranged(t protocol.RoadPieceType, id, start, end int) TrackPiece {
	return TrackPiece{Type: t, RoadPieceID: id, HasRange: true, StartLocation: start, EndLocation: end}
}

func testIndex() *SpatialIndex {
	return NewSpatialIndex([]TrackPiece{
		ranged(protocol.PieceStraight, 36, 10, 20),
		ranged(protocol.PieceCorner, 17, 0, 3),
		ranged(protocol.PieceStart, 33, 30, 31),
		ranged(protocol.PieceStraight, 36, 40, 42),
		{Type: protocol.PieceCorner, RoadPieceID: 18},
	})
}

func TestSpatialIndex_Lookup(t *testing.T) {
	idx := testIndex()

	tests := []struct {
		name      string
		location  int
		id        int
		wantIndex int
		progress  float64
	}{
		{"exact midpoint", 15, 36, 0, 0.5},
		{"exact start", 10, 36, 0, 0},
		{"exact end", 42, 36, 3, 1},
		{"start finish alias", 30, 34, 2, 0},
		{"nearest with same id", 25, 36, 0, 1},
		{"nearest of same type", 5, 40, 0, 0},
		{"unknown id falls back to nearest overall", 5, 99, 1, 1},
		{"piece without range", 2, 18, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := idx.Lookup(tt.location, tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.wantIndex, m.Index)
			assert.InDelta(t, tt.progress, m.Progress, 1e-9)
			assert.Equal(t, idx.pieces[tt.wantIndex], m.Piece)
		})
	}
}

func TestSpatialIndex_TypeFallbackKeepsStartFinish(t *testing.T) {
	idx := NewSpatialIndex([]TrackPiece{
		ranged(protocol.PieceStraight, 36, 10, 20),
		ranged(protocol.PieceCorner, 17, 0, 3),
	})

	m, ok := idx.Lookup(4, protocol.RoadPieceIDStart)
	require.True(t, ok)
	assert.Equal(t, 1, m.Index, "nearest overall, not the nearest straight")
	assert.Equal(t, protocol.PieceCorner, m.Piece.Type)

	m, ok = idx.Lookup(4, 40)
	require.True(t, ok)
	assert.Equal(t, 0, m.Index, "another straight id resolves to a straight")
}

func TestSpatialIndex_Empty(t *testing.T) {
	_, ok := NewSpatialIndex(nil).Lookup(1, 36)
	assert.False(t, ok)
	assert.Zero(t, NewSpatialIndex(nil).Len())
}

func TestSpatialIndex_SingleLocationPiece(t *testing.T) {
	idx := NewSpatialIndex([]TrackPiece{ranged(protocol.PieceCorner, 17, 4, 4)})
	m, ok := idx.Lookup(4, 17)
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Progress)
}

func TestSpatialIndex_LookupFromPrefersTravelOrder(t *testing.T) {
	idx := NewSpatialIndex([]TrackPiece{
		ranged(protocol.PieceStraight, 36, 0, 2),
		ranged(protocol.PieceCorner, 17, 0, 2),
		ranged(protocol.PieceStraight, 36, 0, 2),
	})

	tests := []struct {
		last int
		want int
	}{
		{-1, 0},
		{0, 2},
		{1, 2},
		{2, 0},
	}
	for _, tt := range tests {
		m, ok := idx.LookupFrom(1, 36, tt.last)
		require.True(t, ok)
		assert.Equal(t, tt.want, m.Index, "last=%d", tt.last)
	}
}

func TestSpatialIndex_IsDetachedFromInput(t *testing.T) {
	pieces := []TrackPiece{ranged(protocol.PieceStraight, 36, 10, 20)}
	idx := NewSpatialIndex(pieces)
	pieces[0].RoadPieceID = 40

	m, ok := idx.Lookup(12, 36)
	require.True(t, ok)
	assert.Equal(t, 36, m.Piece.RoadPieceID)
}
