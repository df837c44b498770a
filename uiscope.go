// Package uiscope provides screenshot UI-element annotation: viewport
// framing, region selection, vision-model analysis and flattened overlay
// export.
//
// An operator drops screenshots, draws selection regions, and receives
// machine-detected UI elements rendered as positioned overlays over a
// zoomable/pannable image. Detected elements arrive as annotation/event
// pairs joined by item number, editable through a table surface and
// exportable as an annotated raster.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/rs/zerolog"
//		"github.com/uiscope/uiscope"
//		"github.com/uiscope/uiscope/internal/config"
//	)
//
//	func main() {
//		ws, err := uiscope.New(config.Default(), zerolog.Nop())
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		doc, err := ws.LoadFile("screenshot.png")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := ws.Analyze(context.Background(), []int{doc.ID}); err != nil {
//			log.Fatal(err)
//		}
//		ws.Runner.Wait()
//
//		artifact, err := ws.ExportDocument(doc.ID)
//		if err != nil {
//			log.Fatal(err)
//		}
//		_ = artifact // hand to the host environment or write to disk
//	}
//
// The package consists of five main components:
//
// 1. Viewport (pkg/viewport): per-document zoom/pan state and transforms
// 2. Selection (pkg/selection): pointer gestures to normalized rectangles
// 3. Render (pkg/render): overlay geometry, hover and raster export
// 4. Batch (pkg/batch): sequential cancellable analysis runs
// 5. Detection (pkg/detection): vision-model calls and response parsing
package uiscope

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uiscope/uiscope/internal/config"
	"github.com/uiscope/uiscope/pkg/batch"
	"github.com/uiscope/uiscope/pkg/client"
	"github.com/uiscope/uiscope/pkg/detection"
	"github.com/uiscope/uiscope/pkg/document"
	"github.com/uiscope/uiscope/pkg/llamacpp"
	"github.com/uiscope/uiscope/pkg/ollama"
	"github.com/uiscope/uiscope/pkg/processing"
	"github.com/uiscope/uiscope/pkg/render"
	"github.com/uiscope/uiscope/pkg/selection"
	"github.com/uiscope/uiscope/pkg/types"
	"github.com/uiscope/uiscope/pkg/viewport"
)

// Version of the uiscope library
const Version = "1.0.0"

// Workspace wires the document store, viewport, selection engine, renderer
// and batch runner into one working set.
type Workspace struct {
	Documents *document.Store
	Views     *viewport.Store
	Viewport  *viewport.Controller
	Selection *selection.Engine
	Hover     *render.Hover
	Runner    *batch.Runner

	proc     *processing.Processor
	detector *detection.Detector
	cfg      *config.Config
	log      zerolog.Logger

	activeID int
}

// Artifact is a flattened export delivered on the outbound channel.
type Artifact struct {
	DocID  int
	Format string
	Data   []byte
}

// New creates a workspace against the configured analyzer backend.
func New(cfg *config.Config, log zerolog.Logger) (*Workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var visionClient client.VisionClient
	var err error
	switch cfg.Analyzer.Backend {
	case "ollama":
		visionClient, err = ollama.NewClient(cfg.Analyzer.URL)
	case "llamacpp":
		visionClient, err = llamacpp.NewClient(cfg.Analyzer.URL, cfg.Analyzer.APIKey)
	default:
		err = fmt.Errorf("unknown backend: %s", cfg.Analyzer.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Analyzer.Backend, err)
	}

	proc := processing.NewProcessor()
	detector := detection.NewDetector(visionClient, proc)
	detector.SendFormat = cfg.Analyzer.SendFormat
	detector.SendSize = cfg.Analyzer.SendSize
	detector.SendQuality = cfg.Analyzer.SendQuality

	views := viewport.NewStore()
	docs := document.NewStore(proc, views)
	vp := viewport.NewController(views)

	ws := &Workspace{
		Documents: docs,
		Views:     views,
		Viewport:  vp,
		Selection: selection.NewEngine(vp),
		Hover:     &render.Hover{},
		proc:      proc,
		detector:  detector,
		cfg:       cfg,
		log:       log,
	}
	ws.Runner = batch.NewRunner(docs, ws.analyzeDocument, log)
	return ws, nil
}

// LoadFile ingests an image from a file path or URL as a new document.
func (w *Workspace) LoadFile(source string) (*document.Document, error) {
	return w.Documents.LoadFile(source)
}

// ImportImage accepts an inbound import-channel payload. The payload must
// decode as an image or the import is rejected.
func (w *Workspace) ImportImage(name string, payload []byte) (*document.Document, error) {
	return w.Documents.Import(name, payload)
}

// ActivateDocument makes a document current, restoring its stored view
// state or fitting it to the container.
func (w *Workspace) ActivateDocument(id int, container viewport.Size) error {
	doc, ok := w.Documents.Get(id)
	if !ok {
		return document.ErrNotFound
	}
	w.activeID = id
	w.Viewport.Activate(id, container, viewport.Size{
		W: float64(doc.Width),
		H: float64(doc.Height),
	})
	w.Hover.Clear()
	return nil
}

// ActiveID returns the current document id, 0 when none is active.
func (w *Workspace) ActiveID() int {
	return w.activeID
}

// PointerDown starts a gesture on the active document, resolving the mode
// for the whole gesture.
func (w *Workspace) PointerDown(screen viewport.Point, mods selection.Modifiers) selection.Mode {
	hasResult := false
	if doc, ok := w.Documents.Get(w.activeID); ok {
		hasResult = doc.HasResult()
	}
	return w.Selection.PointerDown(screen, mods, hasResult)
}

// PointerMove advances the active gesture.
func (w *Workspace) PointerMove(screen viewport.Point) {
	w.Selection.PointerMove(screen)
}

// PointerUp finishes the gesture and routes the outcome: a click clears
// the pending selection, a drag stores it, and in annotate mode the
// rectangle is committed immediately as an annotation/event pair.
func (w *Workspace) PointerUp(screen viewport.Point) (selection.Result, error) {
	res := w.Selection.PointerUp(screen)
	switch res.Kind {
	case selection.KindClick:
		return res, w.Documents.ClearSelection(w.activeID)
	case selection.KindSelection:
		return res, w.Documents.SetSelection(w.activeID, res.Rect)
	case selection.KindAnnotation:
		_, err := w.Documents.CommitAnnotation(w.activeID, res.Rect, "untitled element")
		return res, err
	default:
		return res, nil
	}
}

// Overlays returns the active document's annotations as screen-space
// boxes under the current view transform.
func (w *Workspace) Overlays(badgeW, badgeH float64) []render.OverlayBox {
	doc, ok := w.Documents.Get(w.activeID)
	if !ok {
		return nil
	}
	return render.Overlays(doc.Result, w.Viewport.State(), doc.Width, doc.Height, badgeW, badgeH)
}

// UpdateHover hit-tests the given screen point against the current
// overlays and returns the hovered item number, if any.
func (w *Workspace) UpdateHover(x, y float64, badgeW, badgeH float64) (int, bool) {
	return w.Hover.Update(w.Overlays(badgeW, badgeH), x, y)
}

// Analyze starts a batch run over the given document ids.
func (w *Workspace) Analyze(ctx context.Context, ids []int) error {
	return w.Runner.Start(ctx, ids)
}

// CancelAnalysis cancels the active batch run, interrupting the in-flight
// call.
func (w *Workspace) CancelAnalysis() {
	w.Runner.Cancel()
}

// ExportDocument flattens a document with its annotations into an encoded
// artifact for the outbound export channel.
func (w *Workspace) ExportDocument(id int) (*Artifact, error) {
	doc, ok := w.Documents.Get(id)
	if !ok {
		return nil, document.ErrNotFound
	}

	flat, err := render.Export(doc.Image, doc.Result)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	data, err := w.proc.EncodeImage(flat, w.cfg.Export.Format, w.cfg.Export.Quality, w.cfg.Export.Lossless)
	if err != nil {
		return nil, fmt.Errorf("export encoding failed: %w", err)
	}

	return &Artifact{DocID: id, Format: w.cfg.Export.Format, Data: data}, nil
}

// SaveExport flattens a document and writes it straight to path in the
// configured export format, bypassing the artifact channel.
func (w *Workspace) SaveExport(id int, path string) error {
	doc, ok := w.Documents.Get(id)
	if !ok {
		return document.ErrNotFound
	}

	flat, err := render.Export(doc.Image, doc.Result)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return w.proc.SaveImage(flat, path, w.cfg.Export.Format, w.cfg.Export.Quality, w.cfg.Export.Lossless)
}

// SaveState persists all view states to the configured state file.
func (w *Workspace) SaveState() error {
	return w.Views.SaveToFile(w.cfg.State.File)
}

// LoadState restores view states from the configured state file.
func (w *Workspace) LoadState() error {
	return w.Views.LoadFromFile(w.cfg.State.File)
}

// analyzeDocument is the batch runner's per-document call: it scopes the
// request to the snapshotted selection and carries the document's custom
// rules and tag context.
func (w *Workspace) analyzeDocument(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
	return w.detector.Analyze(ctx, w.cfg.Analyzer.Model, detection.Request{
		Image:        in.Image,
		Selection:    in.Selection,
		CustomRules:  in.CustomRules,
		ExistingTags: in.ExistingTags,
		Language:     w.cfg.Analyzer.Language,
	})
}
