package protocol

import (
	"encoding/json"
	"testing"
)

func TestRoadPieceTypeFromID(t *testing.T) {
	tests := []struct {
		ids  []int
		want RoadPieceType
	}{
		{[]int{33}, PieceStart},
		{[]int{34}, PieceFinish},
		{[]int{36, 39, 40, 48, 51}, PieceStraight},
		{[]int{17, 18, 20, 23, 24, 27}, PieceCorner},
		{[]int{10}, PieceIntersection},
	}

	for _, tt := range tests {
		for _, id := range tt.ids {
			got, err := RoadPieceTypeFromID(id)
			if err != nil {
				t.Fatalf("RoadPieceTypeFromID(%d) error = %v", id, err)
			}
			if got != tt.want {
				t.Errorf("RoadPieceTypeFromID(%d) = %v, want %v", id, got, tt.want)
			}
		}
	}
}

func TestRoadPieceTypeFromID_Unknown(t *testing.T) {
	for _, id := range []int{0, 11, 35, 57, 255, -1} {
		if _, err := RoadPieceTypeFromID(id); err == nil {
			t.Errorf("RoadPieceTypeFromID(%d) should fail", id)
		}
	}
}

func TestNormalize(t *testing.T) {
	if PieceStart.Normalize() != PieceStraight || PieceFinish.Normalize() != PieceStraight {
		t.Error("start and finish should normalize to straight")
	}
	if PieceCorner.Normalize() != PieceCorner {
		t.Error("corner should stay a corner")
	}
}

func TestAliasRoadPieceID(t *testing.T) {
	if got, ok := AliasRoadPieceID(33); !ok || got != 34 {
		t.Errorf("AliasRoadPieceID(33) = %d,%v", got, ok)
	}
	if got, ok := AliasRoadPieceID(34); !ok || got != 33 {
		t.Errorf("AliasRoadPieceID(34) = %d,%v", got, ok)
	}
	if _, ok := AliasRoadPieceID(36); ok {
		t.Error("straight pieces have no alias")
	}
}

func TestRoadPieceType_JSON(t *testing.T) {
	data, err := json.Marshal(PieceCorner)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"CORNER"` {
		t.Errorf("Marshal = %s", data)
	}

	var got RoadPieceType
	if err := json.Unmarshal([]byte(`"INTERSECTION"`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != PieceIntersection {
		t.Errorf("Unmarshal = %v", got)
	}

	if err := json.Unmarshal([]byte(`"LOOP"`), &got); err == nil {
		t.Error("Unmarshal of unknown name should fail")
	}
}
