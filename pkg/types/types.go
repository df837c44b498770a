package types

// Box represents a normalized bounding box with coordinates in [0,1] range,
// expressed relative to a document's native image dimensions. It is stored
// normalized and only converted to pixels at render or crop time.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Clamp returns the box with all components clamped to [0,1].
func (b Box) Clamp() Box {
	return Box{
		X: clamp(b.X, 0, 1),
		Y: clamp(b.Y, 0, 1),
		W: clamp(b.W, 0, 1),
		H: clamp(b.H, 0, 1),
	}
}

// Empty reports whether the box has no usable area.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Contains reports whether the normalized point (x, y) lies inside the box.
func (b Box) Contains(x, y float64) bool {
	return x >= b.X && x <= b.X+b.W && y >= b.Y && y <= b.Y+b.H
}

// Annotation is a detected or user-created UI element marker. ItemNo is the
// per-document 1-based key joining the annotation to its Event.
type Annotation struct {
	ItemNo     int     `json:"item_no"`
	Label      string  `json:"label"`
	Box        Box     `json:"bbox"`
	Confidence float64 `json:"confidence,omitempty"`
	Priority   string  `json:"priority,omitempty"`
}

// Event is the tagging record paired 1:1 with the Annotation sharing its
// ItemNo. All five fields are required when events are edited externally.
type Event struct {
	ItemNo      int    `json:"item_no"`
	Category    string `json:"category"`
	Action      string `json:"action"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// AnalysisResult is one vision-model response for a single document:
// an ordered event list and an ordered annotation list joined by ItemNo,
// numbering restarted at 1 on every independent call.
type AnalysisResult struct {
	Events      []Event      `json:"events"`
	Annotations []Annotation `json:"annotations"`
}

// Clone returns a deep copy so callers can hand results across package
// boundaries without sharing slices.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := &AnalysisResult{
		Events:      make([]Event, len(r.Events)),
		Annotations: make([]Annotation, len(r.Annotations)),
	}
	copy(out.Events, r.Events)
	copy(out.Annotations, r.Annotations)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
