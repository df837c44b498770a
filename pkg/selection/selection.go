// Package selection converts pointer gestures over the viewport into
// normalized rectangles, or routes them to panning.
package selection

import (
	"github.com/uiscope/uiscope/pkg/types"
	"github.com/uiscope/uiscope/pkg/viewport"
)

// MinSize is the minimum normalized width/height for a drag to count as a
// selection. Anything smaller is treated as a click.
const MinSize = 0.005

// Mode is the interaction mode of one gesture. It is resolved once at
// pointer-down and held until pointer-up; no mid-gesture switching.
type Mode int

const (
	// ModeSelect tracks a rectangle stored as the document's pending
	// selection.
	ModeSelect Mode = iota
	// ModeAnnotate tracks a rectangle committed immediately as a new
	// annotation/event pair. Chosen when the document already has a result.
	ModeAnnotate
	// ModePan routes pointer movement to the viewport controller.
	ModePan
)

// Modifiers captures the conditions that select pan mode at pointer-down.
type Modifiers struct {
	SpaceHeld       bool
	PanToolActive   bool
	SecondaryButton bool
}

func (m Modifiers) pan() bool {
	return m.SpaceHeld || m.PanToolActive || m.SecondaryButton
}

// Kind classifies the outcome of a finished gesture.
type Kind int

const (
	// KindNone means no gesture was in progress.
	KindNone Kind = iota
	// KindClick is a drag below the minimum size; any pending selection
	// should be cleared.
	KindClick
	// KindSelection carries a pending selection rectangle.
	KindSelection
	// KindAnnotation carries a rectangle to commit as an annotation.
	KindAnnotation
	// KindPan means the gesture was a pan; movement already went to the
	// viewport controller.
	KindPan
)

// Result is the outcome of PointerUp. Rect is set for KindSelection and
// KindAnnotation.
type Result struct {
	Kind Kind
	Rect types.Box
}

// Engine tracks one gesture at a time against the active viewport
// transform. Coordinates are normalized against the image's on-screen
// bounding box, so the derived rectangle is independent of zoom and pan.
type Engine struct {
	vp *viewport.Controller

	active     bool
	mode       Mode
	start      point
	current    point
	lastScreen viewport.Point
}

type point struct {
	x, y float64
}

// NewEngine creates an engine mapping gestures through vp.
func NewEngine(vp *viewport.Controller) *Engine {
	return &Engine{vp: vp}
}

// PointerDown starts a gesture and resolves its mode for the whole gesture:
// pan when a pan condition holds, annotate when the document already has an
// analysis result, plain selection otherwise. A down event while a gesture
// is active is ignored.
func (e *Engine) PointerDown(screen viewport.Point, mods Modifiers, hasResult bool) Mode {
	if e.active {
		return e.mode
	}
	e.active = true
	e.lastScreen = screen

	switch {
	case mods.pan():
		e.mode = ModePan
	case hasResult:
		e.mode = ModeAnnotate
	default:
		e.mode = ModeSelect
	}

	p := e.normalize(screen)
	e.start = p
	e.current = p
	return e.mode
}

// PointerMove advances the gesture. In pan mode the screen delta goes to
// the viewport controller; otherwise the tracked corner is updated.
func (e *Engine) PointerMove(screen viewport.Point) {
	if !e.active {
		return
	}
	if e.mode == ModePan {
		e.vp.PanBy(viewport.Point{
			X: screen.X - e.lastScreen.X,
			Y: screen.Y - e.lastScreen.Y,
		})
		e.lastScreen = screen
		return
	}
	e.current = e.normalize(screen)
}

// PointerUp finishes the gesture and reports its outcome. Drags below
// MinSize on either axis come back as KindClick with no rectangle.
func (e *Engine) PointerUp(screen viewport.Point) Result {
	if !e.active {
		return Result{Kind: KindNone}
	}
	e.active = false

	if e.mode == ModePan {
		return Result{Kind: KindPan}
	}

	e.current = e.normalize(screen)
	rect := rectBetween(e.start, e.current)
	if rect.W < MinSize || rect.H < MinSize {
		return Result{Kind: KindClick}
	}
	if e.mode == ModeAnnotate {
		return Result{Kind: KindAnnotation, Rect: rect}
	}
	return Result{Kind: KindSelection, Rect: rect}
}

// Active reports whether a gesture is in progress.
func (e *Engine) Active() bool {
	return e.active
}

// CurrentRect returns the in-progress rectangle for live preview. ok is
// false in pan mode or when no gesture is active.
func (e *Engine) CurrentRect() (types.Box, bool) {
	if !e.active || e.mode == ModePan {
		return types.Box{}, false
	}
	return rectBetween(e.start, e.current), true
}

// normalize maps a screen point into [0,1] image coordinates relative to
// the image's on-screen bounding box.
func (e *Engine) normalize(screen viewport.Point) point {
	origin, size := e.vp.ImageScreenRect()
	if !size.Valid() {
		return point{}
	}
	return point{
		x: clamp01((screen.X - origin.X) / size.W),
		y: clamp01((screen.Y - origin.Y) / size.H),
	}
}

// rectBetween derives the normalized rectangle spanned by two corners,
// independent of drag direction.
func rectBetween(a, b point) types.Box {
	return types.Box{
		X: min(a.x, b.x),
		Y: min(a.y, b.y),
		W: abs(a.x - b.x),
		H: abs(a.y - b.y),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
