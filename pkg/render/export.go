package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/uiscope/uiscope/pkg/types"
	"github.com/uiscope/uiscope/pkg/viewport"
)

// Export flattens the base image plus all annotation boxes and numbered
// badges into one raster at the image's native resolution, regardless of
// the current on-screen zoom. Placement follows the same badge rule as the
// interactive overlays.
func Export(img image.Image, result *types.AnalysisResult) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to export")
	}

	nrgba := imaging.Clone(img)
	if result == nil || len(result.Annotations) == 0 {
		return nrgba, nil
	}

	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	// Font size scales with image width so exports of large screenshots
	// stay legible.
	fontSize := math.Max(12, 0.016*float64(w))
	face, err := badgeFace(fontSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load badge font: %w", err)
	}
	defer face.Close()

	stroke := int(math.Max(2, 0.003*float64(minInt(w, h))))
	boxColor := color.NRGBA{230, 46, 46, 255}
	textColor := color.NRGBA{255, 255, 255, 255}

	metrics := face.Metrics()
	ascent := float64(metrics.Ascent) / 64
	descent := float64(metrics.Descent) / 64
	badgeH := math.Ceil(ascent + descent + 0.5*fontSize)
	padding := 0.4 * fontSize

	// Identity transform: native resolution, no pan.
	identity := viewport.ViewState{Zoom: 1}

	for _, overlay := range Overlays(result, identity, w, h, 0, 0) {
		drawBox(nrgba, overlay.Box, boxColor, stroke)

		text := BadgeText(overlay.ItemNo)
		textW := float64(font.MeasureString(face, text)) / 64
		badge := BadgeRect(overlay.ItemNo, overlay.Box, textW+2*padding, badgeH)

		fillRect(nrgba, badge, boxColor)
		drawer := &font.Drawer{
			Dst:  nrgba,
			Src:  image.NewUniform(textColor),
			Face: face,
			Dot: fixed.Point26_6{
				X: floatToFixed(badge.X + padding),
				Y: floatToFixed(badge.Y + (badge.H-ascent-descent)/2 + ascent),
			},
		}
		drawer.DrawString(text)
	}

	return nrgba, nil
}

func floatToFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(v*64 + 0.5)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, r Rect, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := rectToPixels(r, img.Bounds().Dx(), img.Bounds().Dy())
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func fillRect(img *image.NRGBA, r Rect, c color.NRGBA) {
	x0, y0, x1, y1 := rectToPixels(r, img.Bounds().Dx(), img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		drawHLine(img, y, x0, x1, c)
	}
}

func rectToPixels(r Rect, w, h int) (int, int, int, int) {
	x0 := int(r.X + 0.5)
	y0 := int(r.Y + 0.5)
	x1 := int(r.X + r.W + 0.5)
	y1 := int(r.Y + r.H + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
