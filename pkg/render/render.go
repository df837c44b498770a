// Package render computes overlay geometry for annotations and flattens
// annotated documents into exportable rasters. Interactive overlays and the
// static export share one badge placement rule so both surfaces agree to
// the pixel.
package render

import (
	"strconv"

	"github.com/uiscope/uiscope/pkg/types"
	"github.com/uiscope/uiscope/pkg/viewport"
)

// Rect is an axis-aligned rectangle in screen or image pixels.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Contains reports whether the point (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// OverlayBox is one annotation positioned for display: the box rectangle,
// its numbered badge, and the label text.
type OverlayBox struct {
	ItemNo int
	Label  string
	Box    Rect
	Badge  Rect
}

// BadgeRect places an item's badge against its box. Badges sit immediately
// above the box's top edge, except item 1, whose badge hangs below the top
// edge inside the box so it survives a box flush with the top of the image.
func BadgeRect(itemNo int, box Rect, badgeW, badgeH float64) Rect {
	y := box.Y - badgeH
	if itemNo == 1 {
		y = box.Y
	}
	return Rect{X: box.X, Y: y, W: badgeW, H: badgeH}
}

// BadgeText is the text rendered inside an item's badge.
func BadgeText(itemNo int) string {
	return strconv.Itoa(itemNo)
}

// Overlays positions every annotation of a result under the current view
// transform: screenRect = bbox × natural size × zoom + offset. The stored
// boxes stay normalized; the transform is applied per render.
func Overlays(result *types.AnalysisResult, st viewport.ViewState, imgW, imgH int, badgeW, badgeH float64) []OverlayBox {
	if result == nil {
		return nil
	}
	out := make([]OverlayBox, 0, len(result.Annotations))
	for _, a := range result.Annotations {
		box := Rect{
			X: a.Box.X*float64(imgW)*st.Zoom + st.Offset.X,
			Y: a.Box.Y*float64(imgH)*st.Zoom + st.Offset.Y,
			W: a.Box.W * float64(imgW) * st.Zoom,
			H: a.Box.H * float64(imgH) * st.Zoom,
		}
		out = append(out, OverlayBox{
			ItemNo: a.ItemNo,
			Label:  a.Label,
			Box:    box,
			Badge:  BadgeRect(a.ItemNo, box, badgeW, badgeH),
		})
	}
	return out
}

// Hover tracks which single overlay the pointer is over. At most one item
// reports hover at a time; overlapping boxes resolve to the highest item
// number.
type Hover struct {
	itemNo int
	active bool
}

// Update hit-tests the pointer against the overlays and returns the
// hovered item number, or false when the pointer is over none. The state
// changes only when the answer changes, so consumers can diff.
func (h *Hover) Update(overlays []OverlayBox, x, y float64) (int, bool) {
	best := 0
	for _, o := range overlays {
		if o.Box.Contains(x, y) && o.ItemNo > best {
			best = o.ItemNo
		}
	}
	if best == 0 {
		h.active = false
		h.itemNo = 0
		return 0, false
	}
	h.active = true
	h.itemNo = best
	return best, true
}

// Clear resets the hover state, e.g. when the pointer leaves the viewport.
func (h *Hover) Clear() {
	h.active = false
	h.itemNo = 0
}

// Current returns the hovered item number, if any.
func (h *Hover) Current() (int, bool) {
	return h.itemNo, h.active
}
