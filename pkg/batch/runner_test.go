package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/uiscope/uiscope/pkg/client"
	"github.com/uiscope/uiscope/pkg/detection"
	"github.com/uiscope/uiscope/pkg/document"
	"github.com/uiscope/uiscope/pkg/processing"
	"github.com/uiscope/uiscope/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{180, 180, 180, 255})
		}
	}
	return img
}

func newTestDocs(t *testing.T, n int) (*document.Store, []int) {
	t.Helper()
	s := document.NewStore(processing.NewProcessor(), nil)
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		doc := s.Add(fmt.Sprintf("doc%d.png", i+1), createTestImage(20, 20))
		ids = append(ids, doc.ID)
	}
	return s, ids
}

func okResult() *types.AnalysisResult {
	return &types.AnalysisResult{
		Events:      []types.Event{{ItemNo: 1, Category: "nav", Action: "click", Label: "x", Description: ""}},
		Annotations: []types.Annotation{{ItemNo: 1, Label: "x", Box: types.Box{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}}},
	}
}

func TestStartRejectsEmptyTargets(t *testing.T) {
	docs, _ := newTestDocs(t, 1)
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), nil); !errors.Is(err, ErrNoTargets) {
		t.Errorf("err = %v, want ErrNoTargets", err)
	}
}

func TestStartRejectsWhileRunning(t *testing.T) {
	docs, ids := newTestDocs(t, 1)
	release := make(chan struct{})
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		<-release
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(context.Background(), ids); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	r.Wait()
	if r.State() != StateIdle {
		t.Error("runner not idle after run finished")
	}
}

func TestRunProcessesInGivenOrder(t *testing.T) {
	docs, ids := newTestDocs(t, 3)
	var got []int
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		got = append(got, in.DocID)
		return okResult(), nil
	}, zerolog.Nop())

	order := []int{ids[2], ids[0], ids[1]}
	if err := r.Start(context.Background(), order); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Wait()

	if len(got) != 3 || got[0] != order[0] || got[1] != order[1] || got[2] != order[2] {
		t.Errorf("call order = %v, want %v", got, order)
	}

	summary, ok := r.Summary()
	if !ok {
		t.Fatal("no summary after run")
	}
	if summary.Completed != 3 || summary.Total != 3 || summary.Canceled || summary.Err != nil {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunWritesResults(t *testing.T) {
	docs, ids := newTestDocs(t, 2)
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Wait()

	for _, id := range ids {
		doc, _ := docs.Get(id)
		if doc.Result == nil || len(doc.Result.Annotations) != 1 {
			t.Errorf("doc %d result = %+v", id, doc.Result)
		}
		if st, _ := r.Status(id); st != StatusCompleted {
			t.Errorf("doc %d status = %v, want completed", id, st)
		}
	}
}

func TestCancelDuringInFlightCall(t *testing.T) {
	docs, ids := newTestDocs(t, 3)
	calls := make(chan int, 3)

	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		calls <- in.DocID
		if in.DocID == ids[1] {
			// B blocks until its context is canceled, standing in for a
			// long-latency external call interrupted mid-flight.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-calls // A
	<-calls // B is now in flight
	r.Cancel()
	r.Wait()

	summary, ok := r.Summary()
	if !ok {
		t.Fatal("no summary after canceled run")
	}
	if summary.Completed != 1 || summary.Total != 3 || !summary.Canceled {
		t.Errorf("summary = %+v, want 1 of 3 completed, canceled", summary)
	}

	wantStatus := []Status{StatusCompleted, StatusFailed, StatusFailed}
	for i, id := range ids {
		if st, _ := r.Status(id); st != wantStatus[i] {
			t.Errorf("doc %d status = %v, want %v", id, st, wantStatus[i])
		}
	}

	// C was never attempted.
	select {
	case id := <-calls:
		t.Errorf("target %d was called after cancellation", id)
	case <-time.After(50 * time.Millisecond):
	}

	// A's result survived the cancellation.
	docA, _ := docs.Get(ids[0])
	if docA.Result == nil {
		t.Error("completed result lost after cancellation")
	}
	docB, _ := docs.Get(ids[1])
	if docB.Result != nil {
		t.Error("abandoned in-flight result was stored")
	}
}

func TestPerItemFailureContinuesBatch(t *testing.T) {
	docs, ids := newTestDocs(t, 3)
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		if in.DocID == ids[1] {
			return nil, errors.New("model returned garbage")
		}
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Wait()

	summary, _ := r.Summary()
	if summary.Completed != 2 || summary.Total != 3 || summary.Canceled || summary.Err != nil {
		t.Errorf("summary = %+v, want 2 of 3 completed", summary)
	}

	wantStatus := []Status{StatusCompleted, StatusFailed, StatusCompleted}
	for i, id := range ids {
		if st, _ := r.Status(id); st != wantStatus[i] {
			t.Errorf("doc %d status = %v, want %v", id, st, wantStatus[i])
		}
	}
}

func TestMissingCredentialAbortsRun(t *testing.T) {
	docs, ids := newTestDocs(t, 3)
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		if in.DocID == ids[1] {
			return nil, fmt.Errorf("server returned status 401: %w", client.ErrMissingCredential)
		}
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Wait()

	summary, _ := r.Summary()
	if !errors.Is(summary.Err, client.ErrMissingCredential) {
		t.Errorf("summary.Err = %v, want ErrMissingCredential", summary.Err)
	}
	if summary.Completed != 1 {
		t.Errorf("completed = %d, want 1", summary.Completed)
	}

	// B and C are both marked, C without ever being attempted.
	for _, id := range ids[1:] {
		if st, _ := r.Status(id); st != StatusFailed {
			t.Errorf("doc %d status = %v, want failed", id, st)
		}
	}
}

func TestMalformedResponseCompletesWithEmptyAnnotations(t *testing.T) {
	// Wired through the real detector: B's response is missing the
	// annotations array; the item still completes and the batch goes on.
	docs, ids := newTestDocs(t, 2)

	responses := map[int]string{
		ids[0]: `{"events": [{"item_no": 1, "category": "a", "action": "b", "label": "A", "description": ""}],
			"annotations": [{"item_no": 1, "label": "A", "bbox": {"x": 0, "y": 0, "w": 0.5, "h": 0.5}}]}`,
		ids[1]: `{"events": [{"item_no": 1, "category": "a", "action": "b", "label": "B", "description": ""}]}`,
	}

	var current int
	fake := queryFunc(func(ctx context.Context, model, prompt, imgB64 string) (string, error) {
		return responses[current], nil
	})
	det := detection.NewDetector(fake, processing.NewProcessor())

	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		current = in.DocID
		return det.Analyze(ctx, "test-model", detection.Request{Image: in.Image})
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Wait()

	summary, _ := r.Summary()
	if summary.Completed != 2 {
		t.Fatalf("completed = %d, want 2", summary.Completed)
	}

	docB, _ := docs.Get(ids[1])
	if len(docB.Result.Annotations) != 0 {
		t.Errorf("B annotations = %+v, want empty", docB.Result.Annotations)
	}
	if len(docB.Result.Events) != 1 {
		t.Errorf("B events = %+v, want the parsed event list", docB.Result.Events)
	}
}

func TestRunWorksFromSnapshotWhileDocumentIsEdited(t *testing.T) {
	// The operator keeps editing selection and context while the call is in
	// flight; the call must see the values captured at dispatch time, and
	// the concurrent edits must not race with the run goroutine.
	docs, ids := newTestDocs(t, 1)
	if err := docs.SetSelection(ids[0], types.Box{X: 0.1, Y: 0.1, W: 0.3, H: 0.3}); err != nil {
		t.Fatalf("SetSelection failed: %v", err)
	}
	if err := docs.SetContext(ids[0], "before", "tagA"); err != nil {
		t.Fatalf("SetContext failed: %v", err)
	}

	started := make(chan document.AnalysisInput, 1)
	release := make(chan struct{})
	r := NewRunner(docs, func(ctx context.Context, in document.AnalysisInput) (*types.AnalysisResult, error) {
		started <- in
		<-release
		return okResult(), nil
	}, zerolog.Nop())

	if err := r.Start(context.Background(), ids); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	in := <-started
	for i := 0; i < 20; i++ {
		docs.SetSelection(ids[0], types.Box{X: 0.5, Y: 0.5, W: 0.2, H: 0.2})
		docs.SetContext(ids[0], "after", "tagB")
		docs.ClearSelection(ids[0])
	}
	close(release)
	r.Wait()

	if in.Selection == nil || in.Selection.X != 0.1 {
		t.Errorf("snapshot selection = %+v, want the pre-dispatch selection", in.Selection)
	}
	if in.CustomRules != "before" || in.ExistingTags != "tagA" {
		t.Errorf("snapshot context = %q/%q, want pre-dispatch values", in.CustomRules, in.ExistingTags)
	}

	summary, _ := r.Summary()
	if summary.Completed != 1 {
		t.Errorf("completed = %d, want 1", summary.Completed)
	}
}

// queryFunc adapts a function to the vision client interface.
type queryFunc func(ctx context.Context, model, prompt, imgB64 string) (string, error)

func (f queryFunc) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return f(ctx, model, prompt, imgB64)
}
