// Package workflow implements the in-memory workflow handle tree and the
// top-level orchestrator state machine (spec.md §3 WorkflowHandle, §4.1).
// Grounded on the teacher's orchestrator/engine shape
// (pkg/mcp/application/orchestration/core/orchestrator.go holds state
// across a run; pkg/mcp/application/orchestration/workflow/engine.go
// dispatches sequential stages with a component-tagged zerolog logger),
// adapted here from tool-calling stages to phase dispatch over a tree of
// nodes with a non-owning parent back-reference (spec.md §9 Design Notes:
// "owned tree + non-owning parent pointers").
package workflow

import (
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
)

// Node is one WorkflowHandle in the tree: the root represents the top-level
// deployment, each child represents one manifest step.
type Node struct {
	ID        string
	Level     int
	StepIndex int

	// Root holds the full parsed manifest; a child holds its step and, once a
	// reference step is resolved, its detached manifest.
	Manifest *manifest.Manifest
	Step     *manifest.Step

	Action manifest.Action
	State  State
	Result result.Result

	// RetryTimestamp mirrors the envelope's workflow.retryTimestamp
	// (spec.md §3), echoed back verbatim in the reported document.
	RetryTimestamp string

	// SelectedComponents is the JSON array of component property maps this
	// node (or its single active component, during per-component dispatch)
	// is scoped to. Empty means host-level, no per-component iteration.
	SelectedComponents []map[string]string

	// ComponentsResolved reports whether a component enumerator was already
	// queried for this step (as opposed to SelectedComponents being empty
	// because the step is host-level and was never queried at all).
	ComponentsResolved bool

	Children []*Node

	OperationInProgress bool
	CancelRequested     bool

	ImmediateReboot      bool
	Reboot               bool
	ImmediateAgentRestart bool
	AgentRestart         bool

	// DownloadedManifests records, by detached-manifest file id, that a
	// reference step's child manifest has already been fetched into the
	// sandbox this workflow lifetime (spec.md §4.5 "exactly once").
	DownloadedManifests map[string]bool

	// FusedApplyResult caches the apply outcome computed during the Install
	// phase dispatch (spec.md §4.5: "install-apply are fused at the leaf"),
	// so the subsequent top-level Apply phase reports it rather than
	// re-invoking the handler.
	FusedApplyResult    result.Result
	HasFusedApplyResult bool

	parent *Node
}

// NewRoot creates the root handle for a freshly parsed deployment.
func NewRoot(workflowID string, m *manifest.Manifest, action manifest.Action) *Node {
	return &Node{
		ID:                  workflowID,
		Level:               0,
		Manifest:            m,
		Action:              action,
		State:               StateIdle,
		DownloadedManifests: map[string]bool{},
	}
}

// NewChild appends and returns a new child node for step at stepIndex,
// owned exclusively by n (spec.md §3 invariant: "a node owns its children
// exclusively; removing a node destroys its subtree").
func (n *Node) NewChild(stepIndex int, step *manifest.Step) *Node {
	child := &Node{
		ID:        childID(stepIndex),
		Level:     n.Level + 1,
		StepIndex: stepIndex,
		Step:      step,
		State:     StateIdle,
		parent:    n,
	}
	n.Children = append(n.Children, child)
	return child
}

func childID(stepIndex int) string {
	return itoa(stepIndex)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Parent returns n's non-owning parent reference, or nil at the root.
func (n *Node) Parent() *Node { return n.parent }

// IsRoot reports whether n is the top-level workflow handle.
func (n *Node) IsRoot() bool { return n.parent == nil }

// IsComposite reports whether the root has per-step children.
func (n *Node) IsComposite() bool { return n.IsRoot() && len(n.Children) > 0 }

// Root walks parent pointers up to the top-level handle.
func (n *Node) Root() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// EnsureChildren matches n's child list to m's step list, reusing existing
// children when the counts already agree (spec.md §4.5: "child creation is
// idempotent... resuming the install phase after a reboot reuses existing
// children").
func (n *Node) EnsureChildren(steps []manifest.Step) {
	if len(n.Children) == len(steps) {
		return
	}
	n.Children = nil
	for i := range steps {
		n.NewChild(i, &steps[i])
	}
}

// PropagateCancel sets CancelRequested on n and its entire subtree.
func (n *Node) PropagateCancel() {
	n.CancelRequested = true
	for _, c := range n.Children {
		c.PropagateCancel()
	}
}

// ResetCancel clears CancelRequested on n and its subtree, used when a
// superseding workflow replaces an already-cancelled one.
func (n *Node) ResetCancel() {
	n.CancelRequested = false
	for _, c := range n.Children {
		c.ResetCancel()
	}
}
