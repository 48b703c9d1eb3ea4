package workflow

import (
	"context"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/rs/zerolog"
)

// Phase is one of the four dispatchable phases of spec.md §4.5.
type Phase string

const (
	PhaseDownload    Phase = "download"
	PhaseInstall     Phase = "install"
	PhaseApply       Phase = "apply"
	PhaseIsInstalled Phase = "is_installed"
)

// PhaseRunner drives one phase over the whole workflow tree (expanding
// composite steps, selecting components, invoking handlers) and returns the
// aggregate result for the root. Implemented by pkg/steps; declared here so
// pkg/steps can depend on pkg/workflow without a cycle.
type PhaseRunner interface {
	RunPhase(ctx context.Context, root *Node, phase Phase) result.Result
}

// Reporter emits the current root state as the nested reported-property
// document (spec.md §4.6). Implemented by pkg/report.
type Reporter interface {
	Report(root *Node) error
}

// RebootState tracks spec.md §4.1's system_reboot_state / agent_restart_state.
type RebootState int

const (
	RebootNone RebootState = iota
	RebootRequired
	RebootInProgress
)

// Machine is the top-level orchestrator state machine (spec.md §4.1). It is
// not safe for concurrent use: spec.md §5 specifies a single-threaded
// cooperative driver loop, so the caller serializes all calls on it.
type Machine struct {
	log      zerolog.Logger
	runner   PhaseRunner
	reporter Reporter
	reboot   func() error
	restart  func() error

	root *Node

	lastReportedState State
	systemRebootState  RebootState
	agentRestartState  RebootState
	installedUpdateID  *manifest.UpdateId

	// pending holds a superseding root received while root is still being
	// cooperatively cancelled (spec.md §4.1: "arrivals during that window
	// ... are queued").
	pending *Node
}

// NewMachine wires a Machine to its phase runner, reporter, and reboot /
// agent-restart triggers. reboot and restart may be nil in tests that never
// exercise those result codes.
func NewMachine(runner PhaseRunner, reporter Reporter, reboot, restart func() error) *Machine {
	return &Machine{
		log:      logging.Component("workflow"),
		runner:   runner,
		reporter: reporter,
		reboot:   reboot,
		restart:  restart,
	}
}

// Root returns the currently active workflow handle, or nil if idle with no
// workflow loaded.
func (m *Machine) Root() *Node { return m.root }

// LastReportedState returns the last state sent to the reporter, except that
// a reboot or agent-restart suspension sets it to ApplyStarted without
// sending a report.
func (m *Machine) LastReportedState() State { return m.lastReportedState }

func normalizeAction(a manifest.Action) reportedAction {
	switch a {
	case manifest.ActionProcessDeployment:
		return actionProcessDeployment
	case manifest.ActionDownload:
		return actionDownload
	case manifest.ActionInstall:
		return actionInstall
	case manifest.ActionApply:
		return actionApply
	case manifest.ActionCancel:
		return actionCancel
	default:
		return actionNone
	}
}

// Submit delivers a freshly parsed workflow handle to the machine, per
// spec.md §4.1's final invariant: the same workflow id as the active one is
// an update-in-place, a different id while the current one is in progress
// triggers cooperative cancellation.
func (m *Machine) Submit(ctx context.Context, root *Node) error {
	norm := normalizeAction(root.Action)

	if m.root == nil {
		m.root = root
		return m.dispatch(ctx, root.Action)
	}

	if root.ID == m.root.ID {
		if wouldBeNoOp(norm, m.lastReportedState) || m.isDuplicateCompletedDeployment(norm, root) {
			m.log.Debug().Str("workflow_id", root.ID).Msg("duplicate action suppressed")
			return nil
		}
		m.root = root
		return m.dispatch(ctx, root.Action)
	}

	// Different workflow id: cooperative cancellation of the active one.
	if m.root.OperationInProgress {
		m.log.Info().Str("old_workflow_id", m.root.ID).Str("new_workflow_id", root.ID).
			Msg("superseding workflow received, cancelling active one")
		m.root.PropagateCancel()
		m.pending = root
		return nil
	}

	m.root = root
	return m.dispatch(ctx, root.Action)
}

// isDuplicateCompletedDeployment reports whether a redelivered
// ProcessDeployment envelope names the same update id as the deployment that
// already ran to completion and returned the machine to Idle (spec.md §8
// Scenario S4): no new state change, no new handler invocation.
func (m *Machine) isDuplicateCompletedDeployment(action reportedAction, root *Node) bool {
	if action != actionProcessDeployment || m.lastReportedState != StateIdle {
		return false
	}
	if m.installedUpdateID == nil || root.Manifest == nil {
		return false
	}
	return m.installedUpdateID.Equal(root.Manifest.UpdateId)
}

// Cancel handles an inbound Cancel action against the active workflow.
func (m *Machine) Cancel(ctx context.Context) error {
	if m.root == nil {
		return nil
	}
	if wouldBeNoOp(actionCancel, m.lastReportedState) {
		return nil
	}
	if m.root.OperationInProgress {
		m.root.PropagateCancel()
		return nil
	}
	return m.setStateAndReport(StateIdle)
}

// dispatch runs the phase sequence implied by action, per spec.md §4.1.
// ProcessDeployment auto-advances through download/install/apply;
// Download/Install/Apply run exactly their one named phase with no
// auto-advance (the explicit-phase back-compat shim, spec.md §9).
func (m *Machine) dispatch(ctx context.Context, action manifest.Action) error {
	if action == manifest.ActionCancel {
		return m.Cancel(ctx)
	}

	if action == manifest.ActionProcessDeployment {
		if err := m.setStateAndReport(StateDeploymentInProgress); err != nil {
			return err
		}
		for _, phase := range []Phase{PhaseDownload, PhaseInstall, PhaseApply} {
			stop, err := m.runPhase(ctx, phase)
			if err != nil || stop {
				return err
			}
		}
		return nil
	}

	if action.IsExplicitPhase() {
		phase := explicitPhaseFor(action)
		_, err := m.runPhase(ctx, phase)
		return err
	}

	return errors.New(errors.CodeUnexpectedState, "workflow", "action not valid for dispatch", nil).
		With("action", action.String())
}

// Resume continues a workflow handle reloaded from a persisted snapshot
// (spec.md §4.7), re-entering the ProcessDeployment phase sequence at from
// instead of always starting at Download. from must be one of
// PhaseDownload, PhaseInstall, or PhaseApply.
func (m *Machine) Resume(ctx context.Context, root *Node, from Phase) error {
	m.root = root
	if err := m.setStateAndReport(StateDeploymentInProgress); err != nil {
		return err
	}
	started := false
	for _, phase := range []Phase{PhaseDownload, PhaseInstall, PhaseApply} {
		if !started {
			if phase != from {
				continue
			}
			started = true
		}
		stop, err := m.runPhase(ctx, phase)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

func explicitPhaseFor(a manifest.Action) Phase {
	switch a {
	case manifest.ActionDownload:
		return PhaseDownload
	case manifest.ActionInstall:
		return PhaseInstall
	case manifest.ActionApply:
		return PhaseApply
	}
	return ""
}

func startingState(phase Phase) State {
	switch phase {
	case PhaseDownload:
		return StateDownloadStarted
	case PhaseInstall:
		return StateInstallStarted
	case PhaseApply:
		return StateApplyStarted
	default:
		return StateFailed
	}
}

func succeededState(phase Phase) State {
	switch phase {
	case PhaseDownload:
		return StateDownloadSucceeded
	case PhaseInstall:
		return StateInstallSucceeded
	case PhaseApply:
		return StateIdle // no explicit ApplySucceeded: success goes straight to Idle.
	default:
		return StateFailed
	}
}

// runPhase dispatches one phase and reacts to its aggregate result. It
// returns stop=true when the deployment has reached a terminal outcome for
// this dispatch (failure, cancellation, or a reboot/restart suspension).
func (m *Machine) runPhase(ctx context.Context, phase Phase) (stop bool, err error) {
	root := m.root
	if err := m.setStateAndReport(startingState(phase)); err != nil {
		return true, err
	}

	root.OperationInProgress = true
	r := m.runner.RunPhase(ctx, root, phase)
	root.OperationInProgress = false

	if root.CancelRequested && !r.IsSuccess() {
		root.Result = result.Cancelled()
		root.ResetCancel()
		if err := m.setStateAndReport(StateIdle); err != nil {
			return true, err
		}
		m.afterTerminal()
		return true, nil
	}

	if r.IsFailure() {
		root.Result = r
		if err := m.setStateAndReport(StateFailed); err != nil {
			return true, err
		}
		return true, nil
	}

	if r.RequiresReboot() {
		return m.suspendForReboot(r)
	}
	if r.RequiresAgentRestart() {
		return m.suspendForAgentRestart(r)
	}

	root.Result = r
	next := succeededState(phase)
	if err := m.setStateAndReport(next); err != nil {
		return true, err
	}
	if phase == PhaseApply && next == StateIdle {
		m.installedUpdateID = &root.Manifest.UpdateId
		m.afterTerminal()
		return true, nil
	}
	return false, nil
}

// suspendForReboot implements spec.md §4.1: "a completed apply whose result
// is success_required_reboot sets system_reboot_state=Required, triggers
// the reboot function, and on successful initiation marks InProgress and
// suspends further reporting until restart".
func (m *Machine) suspendForReboot(r result.Result) (bool, error) {
	m.root.Result = r
	m.systemRebootState = RebootRequired
	if m.reboot != nil {
		if err := m.reboot(); err != nil {
			m.root.Result = result.Failuref(0, 0, "reboot initiation failed: %v", err)
			return true, m.setStateAndReport(StateFailed)
		}
	}
	m.systemRebootState = RebootInProgress
	// Nothing is reported for this suspension: the machine makes no Reporter
	// call here and only records ApplyStarted as its last reported state.
	m.lastReportedState = StateApplyStarted
	return true, nil
}

func (m *Machine) suspendForAgentRestart(r result.Result) (bool, error) {
	m.root.Result = r
	m.agentRestartState = RebootRequired
	if m.restart != nil {
		if err := m.restart(); err != nil {
			m.root.Result = result.Failuref(0, 0, "agent restart initiation failed: %v", err)
			return true, m.setStateAndReport(StateFailed)
		}
	}
	m.agentRestartState = RebootInProgress
	m.lastReportedState = StateApplyStarted
	return true, nil
}

// afterTerminal releases the completed workflow and, if a superseding
// workflow arrived mid-cancellation, starts it now (spec.md §4.1 / §5
// queueing behavior).
func (m *Machine) afterTerminal() {
	if m.pending != nil {
		next := m.pending
		m.pending = nil
		m.root = next
		_ = m.dispatch(context.Background(), next.Action)
	}
}

func (m *Machine) setStateAndReport(s State) error {
	if m.root != nil {
		m.root.State = s
	}
	m.lastReportedState = s
	if m.reporter == nil {
		return nil
	}
	return m.reporter.Report(m.root)
}

// SystemRebootState and AgentRestartState expose the suspension state for
// the reconciler and reporter.
func (m *Machine) SystemRebootState() RebootState { return m.systemRebootState }
func (m *Machine) AgentRestartState() RebootState { return m.agentRestartState }

// InstalledUpdateID returns the update id of the last successfully
// completed (Idle-after-success) deployment, or nil.
func (m *Machine) InstalledUpdateID() *manifest.UpdateId { return m.installedUpdateID }
