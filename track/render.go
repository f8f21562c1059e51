package track

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"

	"github.com/kwv/trackmesh/protocol"
)

// PieceColors defines the fill of each piece type and the road centerline.
type PieceColors struct {
	Straight     color.NRGBA
	Corner       color.NRGBA
	StartLine    color.NRGBA
	Intersection color.NRGBA
	Road         color.NRGBA
}

func DefaultPieceColors() PieceColors {
	return PieceColors{
		Straight:     color.NRGBA{200, 200, 200, 255}, // Light gray
		Corner:       color.NRGBA{100, 149, 237, 180}, // Cornflower blue
		StartLine:    color.NRGBA{144, 238, 144, 200}, // Light green
		Intersection: color.NRGBA{255, 165, 0, 200},   // Orange
		Road:         color.NRGBA{40, 40, 40, 255},
	}
}

func (c PieceColors) fill(t protocol.RoadPieceType) color.NRGBA {
	switch t {
	case protocol.PieceCorner:
		return c.Corner
	case protocol.PieceStart, protocol.PieceFinish:
		return c.StartLine
	case protocol.PieceIntersection:
		return c.Intersection
	}
	return c.Straight
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer draws a track map as vector graphics. One grid cell is
// CellSize canvas units (millimeters) wide.
type VectorRenderer struct {
	Pieces         []TrackPiece
	Colors         PieceColors
	CellSize       float64
	Padding        float64
	GlobalRotation float64           // Rotate entire output (0, 90, 180, 270 degrees CCW)
	Resolution     canvas.Resolution // Resolution for PNG output (default: 10 DPMM)
	ShowGrid       bool

	// Optional live position marker.
	Progress     *Progress
	VehicleColor string
}

func NewVectorRenderer(pieces []TrackPiece) *VectorRenderer {
	return &VectorRenderer{
		Pieces:     clonePieces(pieces),
		Colors:     DefaultPieceColors(),
		CellSize:   100.0,
		Padding:    50.0,
		Resolution: canvas.DPMM(1.0),
		ShowGrid:   true,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	if len(r.Pieces) == 0 {
		return fmt.Errorf("no pieces to render")
	}
	v := r.viewport()
	svgRenderer := svg.New(w, v.width, v.height, nil)
	r.renderToCanvas(svgRenderer, v)
	return svgRenderer.Close()
}

// RenderToPNG writes the map as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	if len(r.Pieces) == 0 {
		return fmt.Errorf("no pieces to render")
	}
	v := r.viewport()
	rast := rasterizer.New(v.width, v.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, v)
	// Rasterizer implements draw.Image interface, which embeds image.Image
	return png.Encode(w, rast)
}

type viewport struct {
	minX, minY, maxX, maxY float64
	centerX, centerY       float64
	width, height          float64
}

// viewport computes the rotated world extent of all cells, edges included.
func (r *VectorRenderer) viewport() viewport {
	b := ComputeBounds(r.Pieces)
	half := r.CellSize / 2
	minX, minY := b.MinX*r.CellSize-half, b.MinY*r.CellSize-half
	maxX, maxY := b.MaxX*r.CellSize+half, b.MaxY*r.CellSize+half
	cx, cy := (minX+maxX)/2, (minY+maxY)/2

	v := viewport{minX: math.MaxFloat64, minY: math.MaxFloat64, maxX: -math.MaxFloat64, maxY: -math.MaxFloat64, centerX: cx, centerY: cy}
	for _, c := range [][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}} {
		x, y := r.rotate(c[0], c[1], cx, cy)
		v.minX, v.maxX = math.Min(v.minX, x), math.Max(v.maxX, x)
		v.minY, v.maxY = math.Min(v.minY, y), math.Max(v.maxY, y)
	}
	v.width = (v.maxX - v.minX) + 2*r.Padding
	v.height = (v.maxY - v.minY) + 2*r.Padding
	return v
}

func (r *VectorRenderer) rotate(x, y, centerX, centerY float64) (float64, float64) {
	if r.GlobalRotation == 0 {
		return x, y
	}
	rad := r.GlobalRotation * math.Pi / 180
	dx, dy := x-centerX, y-centerY
	return dx*math.Cos(rad) - dy*math.Sin(rad) + centerX, dx*math.Sin(rad) + dy*math.Cos(rad) + centerY
}

// renderToCanvas renders the map to a canvas renderer (shared logic for SVG and PNG)
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, v viewport) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(v.width, v.height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		rx, ry := r.rotate(x, y, v.centerX, v.centerY)
		return (rx - v.minX) + r.Padding, (ry - v.minY) + r.Padding
	}
	polyline := func(pts [][2]float64, closed bool) *canvas.Path {
		p := &canvas.Path{}
		for i, pt := range pts {
			cx, cy := toCanvas(pt[0], pt[1])
			if i == 0 {
				p.MoveTo(cx, cy)
			} else {
				p.LineTo(cx, cy)
			}
		}
		if closed {
			p.Close()
		}
		return p
	}
	half := r.CellSize / 2

	// 1. Piece cells
	for _, p := range r.Pieces {
		cx, cy := float64(p.X)*r.CellSize, float64(p.Y)*r.CellSize
		cellStyle := canvas.DefaultStyle
		cellStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.fill(p.Type))}
		cellStyle.Stroke = canvas.Paint{Color: canvas.White}
		cellStyle.StrokeWidth = 2.0
		renderer.RenderPath(polyline([][2]float64{
			{cx - half, cy - half}, {cx + half, cy - half}, {cx + half, cy + half}, {cx - half, cy + half},
		}, true), cellStyle, canvas.Identity)
	}

	// 2. Grid lines on cell borders
	if r.ShowGrid {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 1.0
		gridStyle.Dashes = []float64{5.0, 5.0}

		b := ComputeBounds(r.Pieces)
		for x := b.MinX - 0.5; x <= b.MaxX+0.5; x++ {
			renderer.RenderPath(polyline([][2]float64{
				{x * r.CellSize, (b.MinY - 0.5) * r.CellSize}, {x * r.CellSize, (b.MaxY + 0.5) * r.CellSize},
			}, false), gridStyle, canvas.Identity)
		}
		for y := b.MinY - 0.5; y <= b.MaxY+0.5; y++ {
			renderer.RenderPath(polyline([][2]float64{
				{(b.MinX - 0.5) * r.CellSize, y * r.CellSize}, {(b.MaxX + 0.5) * r.CellSize, y * r.CellSize},
			}, false), gridStyle, canvas.Identity)
		}
	}

	// 3. Road centerline through every piece
	roadStyle := canvas.DefaultStyle
	roadStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	roadStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Road)}
	roadStyle.StrokeWidth = r.CellSize / 10
	for _, p := range r.Pieces {
		renderer.RenderPath(polyline(r.centerline(p), false), roadStyle, canvas.Identity)
	}

	// 4. Start marker on the first piece
	first := r.Pieces[0]
	sx, sy := toCanvas(float64(first.X)*r.CellSize, float64(first.Y)*r.CellSize)
	startStyle := canvas.DefaultStyle
	startStyle.Fill = canvas.Paint{Color: canvas.Black}
	startStyle.Stroke = canvas.Paint{Color: canvas.White}
	startStyle.StrokeWidth = 2.0
	renderer.RenderPath(canvas.Circle(r.CellSize/8).Translate(sx, sy), startStyle, canvas.Identity)

	// 5. Live vehicle position
	if r.Progress != nil && r.Progress.PieceIndex >= 0 && r.Progress.PieceIndex < len(r.Pieces) {
		x, y := r.pointAt(r.Pieces[r.Progress.PieceIndex], r.Progress.Progress)
		px, py := toCanvas(x, y)
		vehicleStyle := canvas.DefaultStyle
		vehicleStyle.Fill = canvas.Paint{Color: parseHexColor(r.VehicleColor)}
		vehicleStyle.Stroke = canvas.Paint{Color: canvas.Black}
		vehicleStyle.StrokeWidth = 3.0
		renderer.RenderPath(canvas.Circle(r.CellSize/5).Translate(px, py), vehicleStyle, canvas.Identity)
	}
}

// centerline returns the road path across a piece in world units: from the
// middle of the edge it is entered through, via the cell center, to the middle
// of the edge it is left through.
func (r *VectorRenderer) centerline(p TrackPiece) [][2]float64 {
	half := r.CellSize / 2
	cx, cy := float64(p.X)*r.CellSize, float64(p.Y)*r.CellSize
	ex, ey := p.Enter.Step()
	xx, xy := p.Exit.Step()
	return [][2]float64{
		{cx - float64(ex)*half, cy - float64(ey)*half},
		{cx, cy},
		{cx + float64(xx)*half, cy + float64(xy)*half},
	}
}

// pointAt interpolates progress (0..1) along the centerline of p.
func (r *VectorRenderer) pointAt(p TrackPiece, progress float64) (float64, float64) {
	pts := r.centerline(p)
	a, b, t := pts[0], pts[1], progress*2
	if progress > 0.5 {
		a, b, t = pts[1], pts[2], progress*2-1
	}
	return a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t
}
