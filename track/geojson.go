package track

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

func pointGeometry(p orb.Point) *Geometry {
	coordsJSON, _ := json.Marshal([2]float64{p.X(), p.Y()})
	return &Geometry{Type: GeometryPoint, Coordinates: coordsJSON}
}

func lineStringGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = [2]float64{p.X(), p.Y()}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{Type: GeometryLineString, Coordinates: coordsJSON}
}

// Outline returns the path through the piece centers in discovery order. A
// closed map returns to the first piece.
func Outline(pieces []TrackPiece, closed bool) orb.LineString {
	ls := orb.LineString(piecePoints(pieces))
	if closed && len(ls) > 1 {
		ls = append(ls, ls[0])
	}
	return ls
}

// DocumentToFeatureCollection exports a map as GeoJSON in grid units: one
// simplified outline LineString, with the track length in pieces, followed
// by one Point per piece.
func DocumentToFeatureCollection(doc Document) *FeatureCollection {
	fc := NewFeatureCollection()
	if len(doc.Pieces) == 0 {
		return fc
	}

	outline := Outline(doc.Pieces, true)
	simplified, ok := simplify.DouglasPeucker(0).Simplify(outline.Clone()).(orb.LineString)
	if !ok {
		simplified = outline
	}
	fc.AddFeature(NewFeature(lineStringGeometry(simplified), map[string]interface{}{
		"kind":      "outline",
		"vehicleId": doc.VehicleID,
		"shape":     string(doc.Shape),
		"length":    planar.Length(outline),
		"pieces":    len(doc.Pieces),
	}))

	for i, p := range doc.Pieces {
		props := map[string]interface{}{
			"kind":        "piece",
			"index":       i,
			"type":        p.Type.String(),
			"roadPieceId": p.RoadPieceID,
			"enter":       int(p.Enter),
			"exit":        int(p.Exit),
		}
		if p.HasRange {
			props["startLocation"] = p.StartLocation
			props["endLocation"] = p.EndLocation
		}
		fc.AddFeature(NewFeature(pointGeometry(orb.Point{float64(p.X), float64(p.Y)}), props))
	}
	return fc
}
