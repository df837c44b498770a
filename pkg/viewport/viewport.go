// Package viewport maintains the zoom/pan transform framing each document in
// the client viewport and converts between screen and image coordinates.
package viewport

// Zoom bounds applied to every zoom operation.
const (
	MinZoom = 0.05
	MaxZoom = 10
)

// Point is a position or delta in screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair in pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Valid reports whether both dimensions are usable. Operations on a
// controller with an unknown image or container size are no-ops.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

// ViewState is the persisted transform for one document. Manual marks the
// state as user-adjusted; a manual state is never silently refit on load.
type ViewState struct {
	Zoom   float64 `json:"zoom"`
	Offset Point   `json:"offset"`
	Manual bool    `json:"manual"`
}

// Controller computes and applies viewport transforms for the active
// document. Every operation publishes the resulting state to the store so
// that switching documents and back restores the exact pan/zoom.
type Controller struct {
	store *Store

	docID     int
	state     ViewState
	image     Size
	container Size
}

// NewController creates a controller publishing into store.
func NewController(store *Store) *Controller {
	return &Controller{store: store, state: ViewState{Zoom: 1}}
}

// Activate switches the controller to a document. A stored state with
// Manual set is restored as-is; otherwise the document is fit to screen.
func (c *Controller) Activate(docID int, container, image Size) ViewState {
	c.docID = docID
	c.container = container
	c.image = image

	if st, ok := c.store.Get(docID); ok && st.Manual {
		c.state = st
		return c.state
	}
	return c.FitToScreen(container, image)
}

// State returns the current transform.
func (c *Controller) State() ViewState {
	return c.state
}

// FitToScreen computes the zoom that fits the image inside the container
// (never upscaling past 1:1) and centers it. The result is not manual, so a
// later activation may recompute it.
func (c *Controller) FitToScreen(container, image Size) ViewState {
	if !container.Valid() || !image.Valid() {
		return c.state
	}
	c.container = container
	c.image = image

	zoom := container.W / image.W
	if v := container.H / image.H; v < zoom {
		zoom = v
	}
	if zoom > 1 {
		zoom = 1
	}
	c.state = ViewState{
		Zoom: zoom,
		Offset: Point{
			X: (container.W - image.W*zoom) / 2,
			Y: (container.H - image.H*zoom) / 2,
		},
		Manual: false,
	}
	c.publish()
	return c.state
}

// ZoomAt rescales around cursor so that the image point under the cursor
// stays under the cursor: imagePoint = (cursor - offset) / zoom is invariant
// across the operation. Marks the state manual.
func (c *Controller) ZoomAt(cursor Point, factor float64) ViewState {
	if !c.image.Valid() || !c.container.Valid() {
		return c.state
	}
	oldZoom := c.state.Zoom
	newZoom := clampZoom(oldZoom * factor)
	if oldZoom <= 0 {
		return c.state
	}
	scale := newZoom / oldZoom
	c.state = ViewState{
		Zoom: newZoom,
		Offset: Point{
			X: cursor.X - (cursor.X-c.state.Offset.X)*scale,
			Y: cursor.Y - (cursor.Y-c.state.Offset.Y)*scale,
		},
		Manual: true,
	}
	c.publish()
	return c.state
}

// PanBy shifts the offset by delta and marks the state manual.
func (c *Controller) PanBy(delta Point) ViewState {
	if !c.image.Valid() || !c.container.Valid() {
		return c.state
	}
	c.state.Offset.X += delta.X
	c.state.Offset.Y += delta.Y
	c.state.Manual = true
	c.publish()
	return c.state
}

// CompensateResize shifts the offset by half the container size delta on
// each axis so the visual center is preserved. The manual flag is left
// untouched; a resize does not force a refit.
func (c *Controller) CompensateResize(oldSize, newSize Size) ViewState {
	if !oldSize.Valid() || !newSize.Valid() || !c.image.Valid() {
		return c.state
	}
	c.container = newSize
	c.state.Offset.X += (newSize.W - oldSize.W) / 2
	c.state.Offset.Y += (newSize.H - oldSize.H) / 2
	c.publish()
	return c.state
}

// ImageScreenRect returns the on-screen bounding box of the image under the
// current transform: origin at the offset, extent natural size times zoom.
func (c *Controller) ImageScreenRect() (origin Point, size Size) {
	return c.state.Offset, Size{
		W: c.image.W * c.state.Zoom,
		H: c.image.H * c.state.Zoom,
	}
}

func (c *Controller) publish() {
	if c.store != nil {
		c.store.Set(c.docID, c.state)
	}
}

func clampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}
