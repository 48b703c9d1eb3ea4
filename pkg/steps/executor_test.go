package steps

import (
	"context"
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/component"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/registry"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

// scriptedHandler lets tests script per-phase results keyed by handler type
// and records the call order across all dispatched (type, phase, component)
// tuples, used to assert spec.md §8 property 8's composite ordering.
type scriptedHandler struct {
	registry.BaseHandler
	name    string
	results map[workflow.Phase]result.Result
	calls   *[]string
}

func (h *scriptedHandler) record(phase workflow.Phase, node *workflow.Node) {
	comp := ""
	if len(node.SelectedComponents) > 0 {
		comp = node.SelectedComponents[0]["id"]
	}
	*h.calls = append(*h.calls, h.name+"("+comp+")/"+string(phase))
}

func (h *scriptedHandler) resultFor(phase workflow.Phase) result.Result {
	if r, ok := h.results[phase]; ok {
		return r
	}
	return result.Success()
}

func (h *scriptedHandler) Download(ctx context.Context, n *workflow.Node) result.Result {
	h.record(workflow.PhaseDownload, n)
	return h.resultFor(workflow.PhaseDownload)
}
func (h *scriptedHandler) Install(ctx context.Context, n *workflow.Node) result.Result {
	h.record(workflow.PhaseInstall, n)
	return h.resultFor(workflow.PhaseInstall)
}
func (h *scriptedHandler) Apply(ctx context.Context, n *workflow.Node) result.Result {
	h.record(workflow.PhaseApply, n)
	return h.resultFor(workflow.PhaseApply)
}
func (h *scriptedHandler) Cancel(ctx context.Context, n *workflow.Node) result.Result {
	return result.Success()
}
func (h *scriptedHandler) IsInstalled(ctx context.Context, n *workflow.Node) result.Result {
	return result.NotInstalled()
}

type fakeRegistry struct {
	handlers map[string]*scriptedHandler
}

func (f *fakeRegistry) LookupHandler(updateType string) (registry.ContentHandler, error) {
	h, ok := f.handlers[updateType]
	if !ok {
		return nil, errNotFound(updateType)
	}
	return h, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "handler not found: " + string(e) }
func errNotFound(t string) error    { return notFoundErr(t) }

type fakeEnumerator struct {
	byStepIndex map[int][]map[string]string
	stepIndex   int
}

func (f *fakeEnumerator) SelectComponents(ctx context.Context, compat manifest.CompatibilitySet) ([]map[string]string, error) {
	c := f.byStepIndex[f.stepIndex]
	f.stepIndex++
	return c, nil
}

func buildComposite(steps ...manifest.Step) *manifest.Manifest {
	return &manifest.Manifest{
		UpdateType: "contoso/composite:1",
		UpdateId:   manifest.UpdateId{Provider: "contoso", Name: "fridge", Version: "1.0.0"},
		Instructions: manifest.Instructions{Steps: steps},
	}
}

func TestSingleInlineStepDispatchesAllPhases(t *testing.T) {
	var calls []string
	handler := &scriptedHandler{name: "noop", results: map[workflow.Phase]result.Result{}, calls: &calls}
	reg := &fakeRegistry{handlers: map[string]*scriptedHandler{"test/noop:1": handler}}

	m := buildComposite(manifest.Step{Type: manifest.StepTypeInline, Handler: "test/noop:1"})
	root := workflow.NewRoot("w1", m, manifest.ActionProcessDeployment)

	ex := NewExecutor(reg, component.HostOnly{}, nil, t.TempDir())

	for _, phase := range []workflow.Phase{workflow.PhaseDownload, workflow.PhaseInstall, workflow.PhaseApply} {
		r := ex.RunPhase(context.Background(), root, phase)
		if r.IsFailure() {
			t.Fatalf("phase %s failed: %+v", phase, r)
		}
	}

	want := []string{"noop()/download", "noop()/install", "noop()/apply"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestCompositeOrderingIsComponentMajor(t *testing.T) {
	var calls []string
	hA := &scriptedHandler{name: "A", results: map[workflow.Phase]result.Result{}, calls: &calls}
	hB := &scriptedHandler{name: "B", results: map[workflow.Phase]result.Result{}, calls: &calls}
	hC := &scriptedHandler{name: "C", results: map[workflow.Phase]result.Result{}, calls: &calls}
	reg := &fakeRegistry{handlers: map[string]*scriptedHandler{
		"contoso/a:1": hA, "contoso/b:1": hB, "contoso/c:1": hC,
	}}

	stepA := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "fa", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}
	stepB := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "fb", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}
	stepC := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "fc", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}

	m := buildComposite(stepA, stepB, stepC)
	m.Files = map[string]manifest.FileEntity{
		"fa": {FileID: "fa", TargetFilename: "a.json"},
		"fb": {FileID: "fb", TargetFilename: "b.json"},
		"fc": {FileID: "fc", TargetFilename: "c.json"},
	}
	root := workflow.NewRoot("w8", m, manifest.ActionProcessDeployment)

	components := []map[string]string{{"id": "x"}, {"id": "y"}}
	enumerator := &fakeEnumerator{byStepIndex: map[int][]map[string]string{0: components, 1: components, 2: components}}
	resolver := detachedResolverFunc(func(ctx context.Context, workflowID, fileID, dest string) (string, error) {
		handlerID := map[string]string{"fa": "contoso/a:1", "fb": "contoso/b:1", "fc": "contoso/c:1"}[fileID]
		return `{"updateType": "` + handlerID + `", "updateId": {"provider":"p","name":"n","version":"1"}}`, nil
	})

	ex := NewExecutor(reg, enumerator, resolver, t.TempDir())
	r := ex.RunPhase(context.Background(), root, workflow.PhaseDownload)
	if r.IsFailure() {
		t.Fatalf("download phase failed: %+v", r)
	}

	want := []string{
		"A(x)/download", "B(x)/download", "C(x)/download",
		"A(y)/download", "B(y)/download", "C(y)/download",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestNoMatchingComponentsIsSkippedNotFailed(t *testing.T) {
	var calls []string
	hA := &scriptedHandler{name: "A", results: map[workflow.Phase]result.Result{}, calls: &calls}
	reg := &fakeRegistry{handlers: map[string]*scriptedHandler{"contoso/a:1": hA}}

	stepA := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "fa", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}
	m := buildComposite(stepA)
	m.Files = map[string]manifest.FileEntity{"fa": {FileID: "fa", TargetFilename: "a.json"}}
	root := workflow.NewRoot("w-nomatch", m, manifest.ActionProcessDeployment)

	enumerator := &fakeEnumerator{byStepIndex: map[int][]map[string]string{0: nil}}
	resolver := detachedResolverFunc(func(ctx context.Context, workflowID, fileID, dest string) (string, error) {
		return `{"updateType": "contoso/a:1", "updateId": {"provider":"p","name":"n","version":"1"}}`, nil
	})

	ex := NewExecutor(reg, enumerator, resolver, t.TempDir())
	r := ex.RunPhase(context.Background(), root, workflow.PhaseDownload)
	if r.IsFailure() {
		t.Fatalf("expected overall success, got %+v", r)
	}
	if root.Children[0].Result.Code != result.CodeSkippedNoMatchingComponents {
		t.Fatalf("expected leaf SkippedNoMatchingComponents, got %+v", root.Children[0].Result)
	}
	if len(calls) != 0 {
		t.Fatalf("expected handler never invoked for a no-match step, got %v", calls)
	}
}

func TestCompositePartialFailurePropagatesLeafDetails(t *testing.T) {
	var calls []string
	ca := map[string]string{"id": "c1"}
	cb := map[string]string{"id": "c2"}

	h0 := &scriptedHandler{name: "step0", calls: &calls, results: map[workflow.Phase]result.Result{}}
	h1 := &scriptedHandler{name: "step1", calls: &calls, results: map[workflow.Phase]result.Result{}}
	reg := &fakeRegistry{handlers: map[string]*scriptedHandler{"contoso/0:1": h0, "contoso/1:1": h1}}

	step0 := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "f0", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}
	step1 := manifest.Step{Type: manifest.StepTypeReference, DetachedManifestFileID: "f1", Compatibility: []manifest.CompatibilitySet{{"k": "v"}}}
	m := buildComposite(step0, step1)
	m.Files = map[string]manifest.FileEntity{
		"f0": {FileID: "f0", TargetFilename: "0.json"},
		"f1": {FileID: "f1", TargetFilename: "1.json"},
	}
	root := workflow.NewRoot("w2", m, manifest.ActionProcessDeployment)

	enumerator := &fakeEnumerator{byStepIndex: map[int][]map[string]string{
		0: {ca, cb}, // step 0: two components
		1: {ca},     // step 1: one component
	}}
	resolver := detachedResolverFunc(func(ctx context.Context, workflowID, fileID, dest string) (string, error) {
		id := map[string]string{"f0": "contoso/0:1", "f1": "contoso/1:1"}[fileID]
		return `{"updateType": "` + id + `", "updateId": {"provider":"p","name":"n","version":"1"}}`, nil
	})

	origDownload := h0.Download
	_ = origDownload
	failingHandler := &failOnComponentHandler{scriptedHandler: h0, failComponentID: "c2", extended: 0xCAFE, details: "simulated"}
	reg.handlers["contoso/0:1"] = nil
	regWithOverride := &fakeRegistryWithOverride{fakeRegistry: reg, overrideType: "contoso/0:1", override: failingHandler}

	ex := NewExecutor(regWithOverride, enumerator, resolver, t.TempDir())
	r := ex.RunPhase(context.Background(), root, workflow.PhaseDownload)

	if !r.IsFailure() {
		t.Fatalf("expected aggregate failure, got %+v", r)
	}
	leaf0 := root.Children[0].Result
	if leaf0.Details != "simulated" || leaf0.ExtendedCode != 0xCAFE {
		t.Fatalf("unexpected leaf_0 result: %+v", leaf0)
	}

	foundStep1ForCA := false
	for _, c := range calls {
		if c == "step1(c1)/download" {
			foundStep1ForCA = true
		}
	}
	if !foundStep1ForCA {
		t.Fatalf("expected step1 to still run for the non-failing component, calls: %v", calls)
	}
}

// failOnComponentHandler wraps a scriptedHandler so Download fails only for
// one named component id, letting a single handler instance behave
// differently per dispatched component (S2's scenario).
type failOnComponentHandler struct {
	*scriptedHandler
	failComponentID string
	extended        uint32
	details         string
}

func (h *failOnComponentHandler) Download(ctx context.Context, n *workflow.Node) result.Result {
	h.record(workflow.PhaseDownload, n)
	if len(n.SelectedComponents) > 0 && n.SelectedComponents[0]["id"] == h.failComponentID {
		return result.Failuref(result.CodeFailureGeneric, h.extended, "%s", h.details)
	}
	return result.Success()
}

type fakeRegistryWithOverride struct {
	*fakeRegistry
	overrideType string
	override     registry.ContentHandler
}

func (f *fakeRegistryWithOverride) LookupHandler(updateType string) (registry.ContentHandler, error) {
	if updateType == f.overrideType {
		return f.override, nil
	}
	return f.fakeRegistry.LookupHandler(updateType)
}

type detachedResolverFunc func(ctx context.Context, workflowID, fileID, dest string) (string, error)

func (f detachedResolverFunc) Resolve(ctx context.Context, workflowID, fileID, dest string) (string, error) {
	return f(ctx, workflowID, fileID, dest)
}
