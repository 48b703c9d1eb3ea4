// Package steps implements the composite/step executor of spec.md §4.5: it
// expands a deployment's manifest into child workflow nodes, selects
// components for each reference step, and drives the per-phase dispatch
// algorithm against the handler registry. Grounded on the teacher's
// phase-keyed dispatch table
// (pkg/infrastructure/orchestration/steps/step_registry.go) and its
// sequential per-stage logging style
// (pkg/mcp/application/orchestration/workflow/engine.go).
package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/iot-hub-device-update-core/pkg/component"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/registry"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
	"github.com/rs/zerolog"
)

// DetachedManifestResolver fetches a reference step's detached child
// manifest into the workflow's sandbox, returning its raw JSON text. The
// core does not itself download bytes (spec.md §1 Non-goals); this is the
// narrow external-collaborator seam for the registered contentDownloader
// extension.
type DetachedManifestResolver interface {
	Resolve(ctx context.Context, workflowID, fileID, destPath string) (rawManifest string, err error)
}

// HandlerLookup resolves an update-type string to its loaded handler.
// Satisfied by *registry.Registry; narrowed to an interface so the executor
// can be tested without a real extension registry on disk.
type HandlerLookup interface {
	LookupHandler(updateType string) (registry.ContentHandler, error)
}

// Executor implements workflow.PhaseRunner.
type Executor struct {
	log         zerolog.Logger
	registry    HandlerLookup
	enumerator  component.Enumerator
	resolver    DetachedManifestResolver
	sandboxRoot string
}

// NewExecutor wires an Executor to its handler registry, component
// enumerator, and detached-manifest resolver. sandboxRoot is the data
// directory's downloads/ tree (spec.md §6).
func NewExecutor(reg HandlerLookup, enumerator component.Enumerator, resolver DetachedManifestResolver, sandboxRoot string) *Executor {
	return &Executor{
		log:         logging.Component("steps"),
		registry:    reg,
		enumerator:  enumerator,
		resolver:    resolver,
		sandboxRoot: sandboxRoot,
	}
}

func (e *Executor) sandboxDir(workflowID string) string {
	return filepath.Join(e.sandboxRoot, workflowID)
}

// RunPhase implements workflow.PhaseRunner.
func (e *Executor) RunPhase(ctx context.Context, root *workflow.Node, phase workflow.Phase) result.Result {
	if phase == workflow.PhaseDownload {
		if err := e.prepare(ctx, root); err != nil {
			return result.Failuref(result.CodeFailureGeneric, 0, "%v", err)
		}
	}

	if len(root.Children) == 0 {
		return result.Success()
	}

	outer := e.resolveOuterComponents(root.Children)
	aggregate := result.Success()

component:
	for _, c := range outer {
		for _, child := range root.Children {
			if child.ComponentsResolved && len(child.SelectedComponents) == 0 {
				continue // reference step matched zero components: permanent no-op.
			}
			if !componentApplies(child, c) {
				continue
			}
			r := e.dispatchChild(ctx, child, c, phase)
			child.Result = r

			if r.RequiresReboot() || r.RequiresAgentRestart() {
				e.log.Info().Str("workflow_id", root.ID).Str("step", child.ID).
					Msg("phase requested reboot/agent-restart, aborting remaining components")
				return r
			}
			if r.IsFailure() {
				if !aggregate.IsFailure() {
					aggregate = r
				}
				e.log.Warn().Str("workflow_id", root.ID).Str("step", child.ID).
					Str("details", r.Details).Msg("step failed, skipping remaining steps for this component")
				continue component
			}
		}
	}
	return aggregate
}

// prepare ensures the sandbox exists, the child list matches the manifest's
// steps (idempotently), reference-step detached manifests are resolved, and
// each reference step's components are selected.
func (e *Executor) prepare(ctx context.Context, root *workflow.Node) error {
	if err := os.MkdirAll(e.sandboxDir(root.ID), 0o755); err != nil {
		return err
	}
	root.EnsureChildren(root.Manifest.Instructions.Steps)

	for _, child := range root.Children {
		step := child.Step
		if step.IsReference() {
			if err := e.resolveReferenceStep(ctx, root, child); err != nil {
				return err
			}
		}
		if err := e.selectComponentsForStep(ctx, root, child); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) resolveReferenceStep(ctx context.Context, root, child *workflow.Node) error {
	fileID := child.Step.DetachedManifestFileID
	if root.DownloadedManifests[fileID] {
		return nil
	}
	file, ok := root.Manifest.Files[fileID]
	if !ok {
		return fmt.Errorf("reference step names unknown file id %q", fileID)
	}
	dest := filepath.Join(e.sandboxDir(root.ID), file.TargetFilename)

	raw, err := e.resolver.Resolve(ctx, root.ID, fileID, dest)
	if err != nil {
		return fmt.Errorf("resolving detached manifest %q: %w", fileID, err)
	}
	m, err := parseDetachedManifest(raw)
	if err != nil {
		return err
	}
	child.Manifest = m
	child.Step.Handler = m.UpdateType
	root.DownloadedManifests[fileID] = true
	return nil
}

func (e *Executor) selectComponentsForStep(ctx context.Context, root, child *workflow.Node) error {
	step := child.Step
	if !step.IsReference() || len(step.Compatibility) == 0 {
		return nil
	}
	components, err := e.enumerator.SelectComponents(ctx, step.Compatibility[0])
	if err != nil {
		return fmt.Errorf("selecting components for step %s: %w", child.ID, err)
	}
	child.SelectedComponents = components
	child.ComponentsResolved = true
	if len(components) == 0 {
		child.Result = result.SkippedNoMatchingComponents()
	}
	return nil
}

// resolveOuterComponents returns the ordered, deduplicated union of every
// child's SelectedComponents, or a single nil entry for an all-host-level
// deployment (spec.md §4.5's outer "for each component c" loop).
func (e *Executor) resolveOuterComponents(children []*workflow.Node) []map[string]string {
	var out []map[string]string
	seen := func(c map[string]string) bool {
		for _, existing := range out {
			if componentsEqual(existing, c) {
				return true
			}
		}
		return false
	}
	for _, child := range children {
		for _, c := range child.SelectedComponents {
			if !seen(c) {
				out = append(out, c)
			}
		}
	}
	if len(out) == 0 {
		return []map[string]string{nil}
	}
	return out
}

func componentApplies(child *workflow.Node, c map[string]string) bool {
	if len(child.SelectedComponents) == 0 {
		return true // host-level step: applies to every outer component pass.
	}
	if len(child.SelectedComponents) > 0 && c == nil {
		return false
	}
	for _, sc := range child.SelectedComponents {
		if componentsEqual(sc, c) {
			return true
		}
	}
	return false
}

func componentsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// dispatchChild runs the per-step algorithm of spec.md §4.5 for one
// (component, step) pair.
func (e *Executor) dispatchChild(ctx context.Context, child *workflow.Node, c map[string]string, phase workflow.Phase) result.Result {
	if c != nil {
		// Scope the step to c for this dispatch only, so the handler sees the
		// current component while the step keeps its full selection for the
		// remaining outer passes.
		scoped := child.SelectedComponents
		child.SelectedComponents = []map[string]string{c}
		defer func() { child.SelectedComponents = scoped }()
	}

	handlerType := child.Step.Handler
	if handlerType == "" && child.Manifest != nil {
		handlerType = child.Manifest.UpdateType
	}

	handler, err := e.registry.LookupHandler(handlerType)
	if err != nil {
		return result.Failuref(result.CodeFailureGeneric, 0, "handler load failed for %s: %v", handlerType, err)
	}

	if phase != workflow.PhaseIsInstalled {
		if installed := handler.IsInstalled(ctx, child); installed.Code == result.CodeInstalled {
			return result.SkippedAlreadyInstalled()
		}
	}

	switch phase {
	case workflow.PhaseDownload:
		return handler.Download(ctx, child)
	case workflow.PhaseInstall:
		return e.dispatchFusedInstall(ctx, handler, child)
	case workflow.PhaseApply:
		if child.HasFusedApplyResult {
			r := child.FusedApplyResult
			child.HasFusedApplyResult = false
			return r
		}
		return handler.Apply(ctx, child)
	case workflow.PhaseIsInstalled:
		return handler.IsInstalled(ctx, child)
	default:
		return result.Failuref(result.CodeFailureGeneric, 0, "unknown phase %q", phase)
	}
}

// dispatchFusedInstall implements spec.md §4.5: "install additionally
// invokes apply on the same step immediately after a successful install ...
// so a failed apply can trigger restore on the same step while its sandbox
// is still populated. A successful install followed by a failing apply
// propagates the apply failure up to the parent."
func (e *Executor) dispatchFusedInstall(ctx context.Context, handler registry.ContentHandler, child *workflow.Node) result.Result {
	installResult := handler.Install(ctx, child)
	if !installResult.IsSuccess() {
		return installResult
	}

	applyResult := handler.Apply(ctx, child)
	if applyResult.IsFailure() {
		handler.Restore(ctx, child)
	}
	child.FusedApplyResult = applyResult
	child.HasFusedApplyResult = true
	return applyResult
}
