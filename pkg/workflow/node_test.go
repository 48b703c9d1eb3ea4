package workflow

import (
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
)

func TestEnsureChildrenIsIdempotent(t *testing.T) {
	steps := []manifest.Step{
		{Type: manifest.StepTypeInline, Handler: "a"},
		{Type: manifest.StepTypeInline, Handler: "b"},
	}
	root := NewRoot("w1", &manifest.Manifest{Instructions: manifest.Instructions{Steps: steps}}, manifest.ActionProcessDeployment)

	root.EnsureChildren(steps)
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}
	if root.Children[0].ID != "0" || root.Children[1].ID != "1" {
		t.Fatalf("unexpected child ids: %q %q", root.Children[0].ID, root.Children[1].ID)
	}
	firstChild0 := root.Children[0]

	// Resuming after reboot: same step count must reuse the existing nodes.
	root.EnsureChildren(steps)
	if len(root.Children) != 2 || root.Children[0] != firstChild0 {
		t.Fatalf("EnsureChildren was not idempotent: got %v, want reuse of %v", root.Children[0], firstChild0)
	}
}

func TestPropagateCancelCascadesToChildren(t *testing.T) {
	root := NewRoot("w1", &manifest.Manifest{}, manifest.ActionProcessDeployment)
	c0 := root.NewChild(0, &manifest.Step{})
	c1 := root.NewChild(1, &manifest.Step{})

	root.PropagateCancel()

	if !root.CancelRequested || !c0.CancelRequested || !c1.CancelRequested {
		t.Fatalf("expected cancellation to cascade to all children")
	}

	root.ResetCancel()
	if root.CancelRequested || c0.CancelRequested || c1.CancelRequested {
		t.Fatalf("expected ResetCancel to clear all children")
	}
}

func TestChildParentAndRootLinks(t *testing.T) {
	root := NewRoot("w1", &manifest.Manifest{}, manifest.ActionProcessDeployment)
	child := root.NewChild(0, &manifest.Step{})

	if child.Parent() != root {
		t.Fatalf("expected child's parent to be root")
	}
	if child.Root() != root {
		t.Fatalf("expected child's Root() to resolve to root")
	}
	if !root.IsRoot() || child.IsRoot() {
		t.Fatalf("IsRoot misreported: root=%v child=%v", root.IsRoot(), child.IsRoot())
	}
	if !root.IsComposite() {
		t.Fatalf("expected root with children to be composite")
	}
}
