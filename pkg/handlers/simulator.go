// Package handlers provides content-handler implementations used by the
// test suite and the spec.md §8 end-to-end scenarios: a scriptable
// Simulator that lets a test drive each capability's outcome per
// invocation, and a trivial Noop handler. Neither is loaded through
// pkg/registry's plugin loader — they satisfy registry.ContentHandler
// directly so tests can wire them through steps.HandlerLookup without a
// real .so module. Grounded on pkg/infrastructure/orchestration/steps/
// *.go's per-step Go struct implementing a narrow interface.
package handlers

import (
	"context"
	"sync"

	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

// Noop implements every capability as an immediate success and reports
// NotInstalled so a workflow using it always runs its phases; useful as a
// harmless default handler in tests that don't care about the outcome.
type Noop struct{}

func (Noop) Download(ctx context.Context, n *workflow.Node) result.Result    { return result.Success() }
func (Noop) Install(ctx context.Context, n *workflow.Node) result.Result    { return result.Success() }
func (Noop) Apply(ctx context.Context, n *workflow.Node) result.Result      { return result.Success() }
func (Noop) Cancel(ctx context.Context, n *workflow.Node) result.Result     { return result.Success() }
func (Noop) IsInstalled(ctx context.Context, n *workflow.Node) result.Result {
	return result.NotInstalled()
}
func (Noop) Backup(ctx context.Context, n *workflow.Node) result.Result  { return result.Success() }
func (Noop) Restore(ctx context.Context, n *workflow.Node) result.Result { return result.Success() }

// Outcome scripts one capability call's return value, optionally only for
// a specific component id (matched against n.SelectedComponents[0]["id"]);
// an empty ComponentID applies to every component.
type Outcome struct {
	ComponentID string
	Result      result.Result
}

// Simulator is a scriptable registry.ContentHandler. Each capability has
// its own ordered outcome queue; Simulator pops the first outcome whose
// ComponentID matches (or is empty) and falls back to result.Success()
// once the queue is exhausted, so unscripted calls don't spuriously fail.
type Simulator struct {
	mu sync.Mutex

	download    []Outcome
	install     []Outcome
	apply       []Outcome
	cancelled   []Outcome
	isInstalled []Outcome
	backup      []Outcome
	restore     []Outcome

	// Calls records every invocation in order, as "phase(componentID)",
	// for assertions on dispatch ordering (spec.md §8 property 8).
	Calls []string

	CancelRequested bool
	BackupCalled    bool
	RestoreCalled   bool
}

// NewSimulator returns a Simulator with every queue empty (every call
// defaults to success / NotInstalled).
func NewSimulator() *Simulator { return &Simulator{} }

// ScriptDownload/Install/Apply/IsInstalled/Cancel queue outcomes consumed
// in FIFO order by the matching capability.
func (s *Simulator) ScriptDownload(o ...Outcome)    { s.download = append(s.download, o...) }
func (s *Simulator) ScriptInstall(o ...Outcome)     { s.install = append(s.install, o...) }
func (s *Simulator) ScriptApply(o ...Outcome)       { s.apply = append(s.apply, o...) }
func (s *Simulator) ScriptIsInstalled(o ...Outcome) { s.isInstalled = append(s.isInstalled, o...) }
func (s *Simulator) ScriptCancel(o ...Outcome)      { s.cancelled = append(s.cancelled, o...) }

func componentID(n *workflow.Node) string {
	if len(n.SelectedComponents) == 0 {
		return ""
	}
	return n.SelectedComponents[0]["id"]
}

func pop(queue []Outcome, id string) ([]Outcome, result.Result, bool) {
	for i, o := range queue {
		if o.ComponentID == "" || o.ComponentID == id {
			return append(append([]Outcome{}, queue[:i]...), queue[i+1:]...), o.Result, true
		}
	}
	return queue, result.Result{}, false
}

func (s *Simulator) record(phase string, n *workflow.Node) string {
	id := componentID(n)
	s.Calls = append(s.Calls, phase+"("+id+")")
	return id
}

func (s *Simulator) Download(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.record("download", n)
	if rest, r, ok := pop(s.download, id); ok {
		s.download = rest
		return r
	}
	return result.Success()
}

func (s *Simulator) Install(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.record("install", n)
	if rest, r, ok := pop(s.install, id); ok {
		s.install = rest
		return r
	}
	return result.Success()
}

func (s *Simulator) Apply(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.record("apply", n)
	if rest, r, ok := pop(s.apply, id); ok {
		s.apply = rest
		return r
	}
	return result.Success()
}

func (s *Simulator) Cancel(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelRequested = true
	id := s.record("cancel", n)
	if rest, r, ok := pop(s.cancelled, id); ok {
		s.cancelled = rest
		return r
	}
	return result.Success()
}

func (s *Simulator) IsInstalled(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.record("is_installed", n)
	if rest, r, ok := pop(s.isInstalled, id); ok {
		s.isInstalled = rest
		return r
	}
	return result.NotInstalled()
}

func (s *Simulator) Backup(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BackupCalled = true
	s.record("backup", n)
	if rest, r, ok := pop(s.backup, componentID(n)); ok {
		s.backup = rest
		return r
	}
	return result.Success()
}

func (s *Simulator) Restore(ctx context.Context, n *workflow.Node) result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RestoreCalled = true
	s.record("restore", n)
	if rest, r, ok := pop(s.restore, componentID(n)); ok {
		s.restore = rest
		return r
	}
	return result.Success()
}
