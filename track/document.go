package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
)

// DocumentVersion is the schema version written by SaveDocument.
const DocumentVersion = 1

// ErrUnsupportedVersion is returned by LoadDocument for documents written
// with a different schema.
var ErrUnsupportedVersion = errors.New("unsupported map document version")

// Bounds is the grid extent of a map.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Document is the persisted form of a finished map.
type Document struct {
	VehicleID string       `json:"vehicleId"`
	Pieces    []TrackPiece `json:"pieces"`
	Version   int          `json:"version"`
	Timestamp int64        `json:"timestamp"`
	Bounds    Bounds       `json:"bounds"`
	Shape     Shape        `json:"shape,omitempty"`
}

// NewDocument snapshots pieces into a document stamped with now.
func NewDocument(vehicleID string, pieces []TrackPiece, shape Shape, now time.Time) Document {
	return Document{
		VehicleID: vehicleID,
		Pieces:    clonePieces(pieces),
		Version:   DocumentVersion,
		Timestamp: now.UnixMilli(),
		Bounds:    ComputeBounds(pieces),
		Shape:     shape,
	}
}

// ComputeBounds returns the bounding box of the piece coordinates. An empty
// list has zero bounds.
func ComputeBounds(pieces []TrackPiece) Bounds {
	if len(pieces) == 0 {
		return Bounds{}
	}
	b := piecePoints(pieces).Bound()
	return Bounds{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

func piecePoints(pieces []TrackPiece) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pieces))
	for i, p := range pieces {
		mp[i] = orb.Point{float64(p.X), float64(p.Y)}
	}
	return mp
}

// DocumentPath is the cache file of a vehicle's map under dir.
func DocumentPath(dir, vehicleID string) string {
	return filepath.Join(dir, vehicleID+".json")
}

// SaveDocument writes doc to path as JSON, creating the directory if needed.
func SaveDocument(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal map document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create map directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write map document: %w", err)
	}
	return nil
}

// LoadDocument reads a document written by SaveDocument.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read map document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("unmarshal map document: %w", err)
	}
	if doc.Version != DocumentVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	return doc, nil
}
