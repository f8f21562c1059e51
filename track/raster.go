package track

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RasterRenderer draws a quick bitmap preview of a map, one square per piece
// labeled with its discovery index.
type RasterRenderer struct {
	Pieces   []TrackPiece
	Colors   PieceColors
	CellSize int // Pixels per grid cell
	Padding  int // Padding around the image
}

func NewRasterRenderer(pieces []TrackPiece) *RasterRenderer {
	return &RasterRenderer{
		Pieces:   clonePieces(pieces),
		Colors:   DefaultPieceColors(),
		CellSize: 40,
		Padding:  10,
	}
}

// Render draws the map into a new image. Grid Y grows upward, image Y
// downward.
func (r *RasterRenderer) Render() *image.RGBA {
	b := ComputeBounds(r.Pieces)
	cols := int(b.MaxX-b.MinX) + 1
	rows := int(b.MaxY-b.MinY) + 1
	if len(r.Pieces) == 0 {
		cols, rows = 0, 0
	}
	width := cols*r.CellSize + 2*r.Padding
	height := rows*r.CellSize + 2*r.Padding

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, img.Bounds(), color.RGBA{255, 255, 255, 255})

	toPixel := func(p TrackPiece) (int, int) {
		col := p.X - int(b.MinX)
		row := int(b.MaxY) - p.Y
		return r.Padding + col*r.CellSize + r.CellSize/2, r.Padding + row*r.CellSize + r.CellSize/2
	}

	for i, p := range r.Pieces {
		cx, cy := toPixel(p)
		drawSquare(img, cx, cy, r.CellSize-2, nrgbaToRGBA(r.Colors.fill(p.Type)))
		drawText(img, cx-r.CellSize/2+3, cy+4, fmt.Sprintf("%d", i), color.RGBA{0, 0, 0, 255})
	}
	if len(r.Pieces) > 0 {
		cx, cy := toPixel(r.Pieces[0])
		drawCircle(img, cx+r.CellSize/4, cy, r.CellSize/8, color.RGBA{0, 0, 0, 255})
	}
	return img
}

// RenderToPNG writes the preview as a PNG to the provided writer
func (r *RasterRenderer) RenderToPNG(w io.Writer) error {
	if err := png.Encode(w, r.Render()); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses "#RRGGBB". Anything else is red.
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
