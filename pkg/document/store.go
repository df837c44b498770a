package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/uiscope/uiscope/pkg/processing"
	"github.com/uiscope/uiscope/pkg/types"
	"github.com/uiscope/uiscope/pkg/viewport"
)

// ErrNotFound is returned when an operation names a document id that does
// not exist (or no longer exists).
var ErrNotFound = errors.New("document not found")

// Store keys all documents by their sequential id. Deleting a document
// drops its view state along with it.
type Store struct {
	mu     sync.Mutex
	nextID int
	docs   map[int]*Document
	order  []int

	proc  *processing.Processor
	views *viewport.Store
}

// NewStore creates an empty document store. views may be nil when no view
// state cleanup is needed (e.g. headless batch use).
func NewStore(proc *processing.Processor, views *viewport.Store) *Store {
	return &Store{
		nextID: 1,
		docs:   map[int]*Document{},
		proc:   proc,
		views:  views,
	}
}

// Add ingests a decoded image as a new document and assigns the next id.
func (s *Store) Add(name string, img image.Image) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounds := img.Bounds()
	doc := &Document{
		ID:     s.nextID,
		Name:   name,
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
	s.nextID++
	s.docs[doc.ID] = doc
	s.order = append(s.order, doc.ID)
	return doc
}

// Import accepts an inbound payload from the import channel. The payload
// must decode as a known image encoding or the import is rejected.
func (s *Store) Import(name string, payload []byte) (*Document, error) {
	img, err := s.proc.DecodeImage(payload)
	if err != nil {
		return nil, fmt.Errorf("import rejected: %w", err)
	}
	return s.Add(name, img), nil
}

// LoadFile ingests an image from a file path or URL.
func (s *Store) LoadFile(source string) (*Document, error) {
	img, err := s.proc.LoadImageSmart(source)
	if err != nil {
		return nil, err
	}
	return s.Add(source, img), nil
}

// Get returns the document with the given id.
func (s *Store) Get(id int) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// IDs returns all document ids in ingestion order.
func (s *Store) IDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// Delete removes a document and its view state.
func (s *Store) Delete(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return
	}
	delete(s.docs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.views != nil {
		s.views.Delete(id)
	}
}

// SetSelection replaces the document's pending selection.
func (s *Store) SetSelection(id int, box types.Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	b := box
	doc.Selection = &b
	return nil
}

// ClearSelection drops the pending selection, e.g. after a plain click.
func (s *Store) ClearSelection(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Selection = nil
	return nil
}

// SetContext stores the free-text analyzer context for a document.
func (s *Store) SetContext(id int, customRules, existingTags string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.CustomRules = customRules
	doc.ExistingTags = existingTags
	return nil
}

// AnalysisInput is a point-in-time copy of the analyzer-facing fields of
// one document. The batch runner works from this copy, so edits to the
// live document during a run neither race with nor leak into the call.
type AnalysisInput struct {
	DocID        int
	Image        image.Image
	Selection    *types.Box
	CustomRules  string
	ExistingTags string
}

// AnalysisInput snapshots a document's analyzer inputs under the store
// lock. The image is shared; it is never mutated after ingestion.
func (s *Store) AnalysisInput(id int) (AnalysisInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return AnalysisInput{}, ErrNotFound
	}
	in := AnalysisInput{
		DocID:        doc.ID,
		Image:        doc.Image,
		CustomRules:  doc.CustomRules,
		ExistingTags: doc.ExistingTags,
	}
	if doc.Selection != nil {
		sel := *doc.Selection
		in.Selection = &sel
	}
	return in, nil
}

// SetResult writes an analysis result into the document's slot, replacing
// any previous result. The stored result is a deep copy, so the caller's
// slices stay its own.
func (s *Store) SetResult(id int, result *types.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Result = result.Clone()
	return nil
}

// CommitAnnotation appends a user-drawn rectangle as a new annotation with
// a paired event, numbered one past the existing set. Used by annotate
// mode, which only activates once a result exists.
func (s *Store) CommitAnnotation(id int, box types.Box, label string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return 0, ErrNotFound
	}
	itemNo := doc.NextItemNo()
	if doc.Result == nil {
		doc.Result = &types.AnalysisResult{}
	}
	doc.Result.Annotations = append(doc.Result.Annotations, types.Annotation{
		ItemNo: itemNo,
		Label:  label,
		Box:    box.Clamp(),
	})
	doc.Result.Events = append(doc.Result.Events, types.Event{
		ItemNo:   itemNo,
		Category: "manual",
		Action:   "tag",
		Label:    label,
	})
	return itemNo, nil
}

// DeleteAnnotation removes the annotation/event pair with the given item
// number and renumbers the remainder so item numbers stay a contiguous
// sequence starting at 1.
func (s *Store) DeleteAnnotation(id, itemNo int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Result == nil {
		return fmt.Errorf("document %d has no result", id)
	}

	anns := doc.Result.Annotations[:0]
	for _, a := range doc.Result.Annotations {
		if a.ItemNo != itemNo {
			anns = append(anns, a)
		}
	}
	events := doc.Result.Events[:0]
	for _, e := range doc.Result.Events {
		if e.ItemNo != itemNo {
			events = append(events, e)
		}
	}
	for i := range anns {
		anns[i].ItemNo = i + 1
	}
	for i := range events {
		events[i].ItemNo = i + 1
	}
	doc.Result.Annotations = anns
	doc.Result.Events = events
	return nil
}

// eventWire mirrors types.Event with pointer fields so a bulk edit can be
// checked for the presence of all five required fields, not just their
// zero values.
type eventWire struct {
	ItemNo      *int    `json:"item_no"`
	Category    *string `json:"category"`
	Action      *string `json:"action"`
	Label       *string `json:"label"`
	Description *string `json:"description"`
}

// ReplaceEvents applies a bulk edit from the table collaborator. The raw
// text must be a JSON array of events carrying all five required fields;
// anything else is rejected and the stored result is left untouched.
func (s *Store) ReplaceEvents(id int, raw []byte) error {
	var wires []eventWire
	if err := json.Unmarshal(raw, &wires); err != nil {
		return fmt.Errorf("edit rejected: not a valid event list: %w", err)
	}

	events := make([]types.Event, 0, len(wires))
	for i, w := range wires {
		switch {
		case w.ItemNo == nil:
			return fmt.Errorf("edit rejected: entry %d missing item_no", i+1)
		case *w.ItemNo < 1:
			return fmt.Errorf("edit rejected: entry %d has non-positive item_no", i+1)
		case w.Category == nil:
			return fmt.Errorf("edit rejected: entry %d missing category", i+1)
		case w.Action == nil:
			return fmt.Errorf("edit rejected: entry %d missing action", i+1)
		case w.Label == nil:
			return fmt.Errorf("edit rejected: entry %d missing label", i+1)
		case w.Description == nil:
			return fmt.Errorf("edit rejected: entry %d missing description", i+1)
		}
		events = append(events, types.Event{
			ItemNo:      *w.ItemNo,
			Category:    *w.Category,
			Action:      *w.Action,
			Label:       *w.Label,
			Description: *w.Description,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Result == nil {
		doc.Result = &types.AnalysisResult{}
	}
	doc.Result.Events = events
	return nil
}
