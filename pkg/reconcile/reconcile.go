// Package reconcile implements the startup reconciler of spec.md §4.7: it
// decides, from the persisted snapshot and a fresh is_installed replay,
// whether a pending deployment already succeeded across the reboot/restart
// that suspended it, needs to resume from where it left off, or should be
// cancelled outright. Grounded on the load-then-decide shape of
// pkg/mcp/application/orchestration/checkpoint/checkpoint_manager.go (load
// persisted state, decide a resume point), adapted here from MCP session
// checkpoints to deployment snapshots.
package reconcile

import (
	"context"

	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/snapshot"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
	"github.com/rs/zerolog"
)

// Outcome reports what the reconciler decided for a pending workflow.
type Outcome int

const (
	// OutcomeNone means there was no pending workflow to reconcile.
	OutcomeNone Outcome = iota
	// OutcomeAlreadyInstalled means is_installed confirmed the deployment
	// already succeeded; the reconciler reported Idle directly.
	OutcomeAlreadyInstalled
	// OutcomeCancelled means the pending action was Cancel; the
	// reconciler reported Idle with no installed-update-id change.
	OutcomeCancelled
	// OutcomeResume means the deployment must continue from ResumePhase;
	// the caller is expected to call Machine.Resume(ctx, root, ResumePhase).
	OutcomeResume
)

// Decision is the result of one Reconcile call.
type Decision struct {
	Outcome     Outcome
	ResumePhase workflow.Phase
}

// Reconciler wires the snapshot store, the is_installed phase runner, and
// the reporter used to publish the startup decision.
type Reconciler struct {
	log       zerolog.Logger
	snapshots *snapshot.Store
	runner    workflow.PhaseRunner
	reporter  workflow.Reporter
}

// New wires a Reconciler.
func New(snapshots *snapshot.Store, runner workflow.PhaseRunner, reporter workflow.Reporter) *Reconciler {
	return &Reconciler{
		log:       logging.Component("reconcile"),
		snapshots: snapshots,
		runner:    runner,
		reporter:  reporter,
	}
}

// Reconcile runs spec.md §4.7's startup decision against pending, the
// workflow handle freshly parsed from whatever "service" desired-property
// value is present at startup (nil if there is none).
func (rc *Reconciler) Reconcile(ctx context.Context, pending *workflow.Node) (Decision, error) {
	if pending == nil {
		rc.log.Debug().Msg("no pending workflow at startup")
		return Decision{Outcome: OutcomeNone}, nil
	}

	snap, hasSnapshot, err := rc.snapshots.Load()
	if err != nil {
		return Decision{}, err
	}

	if pending.Action == manifest.ActionCancel {
		rc.log.Info().Str("workflow_id", pending.ID).Msg("startup Cancel honored with no installed-update-id change")
		pending.State = workflow.StateIdle
		pending.Result = result.Result{}
		if err := rc.report(pending); err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: OutcomeCancelled}, nil
	}

	rc.runner.RunPhase(ctx, pending, workflow.PhaseIsInstalled)

	if allInstalled(pending) {
		rc.log.Info().Str("workflow_id", pending.ID).Msg("is_installed confirms deployment already applied, reporting Idle")
		pending.State = workflow.StateIdle
		pending.Result = result.Success()
		if err := rc.report(pending); err != nil {
			return Decision{}, err
		}
		return Decision{Outcome: OutcomeAlreadyInstalled}, nil
	}

	phase := workflow.PhaseDownload
	if hasSnapshot {
		phase = resumePhaseFor(snap.CurrentStep)
	}
	rc.log.Info().Str("workflow_id", pending.ID).Str("resume_phase", string(phase)).
		Msg("is_installed reports NotInstalled, resuming deployment")
	return Decision{Outcome: OutcomeResume, ResumePhase: phase}, nil
}

func (rc *Reconciler) report(root *workflow.Node) error {
	if rc.reporter == nil {
		return nil
	}
	return rc.reporter.Report(root)
}

// allInstalled reports whether every leaf (or the root itself, for a
// non-composite deployment) reported Installed during the is_installed
// replay (spec.md §4.7: "matches what is_installed reports for every step
// of every component").
func allInstalled(root *workflow.Node) bool {
	if len(root.Children) == 0 {
		return root.Result.Code == result.CodeInstalled
	}
	for _, child := range root.Children {
		if child.Result.Code != result.CodeInstalled {
			return false
		}
	}
	return true
}

// resumePhaseFor maps a persisted current-step state name to the phase the
// deployment should resume at (spec.md §4.7: "typically Idle for a
// download restart, DownloadSucceeded for an install restart").
func resumePhaseFor(currentStep string) workflow.Phase {
	switch currentStep {
	case workflow.StateDownloadSucceeded.String():
		return workflow.PhaseInstall
	case workflow.StateInstallSucceeded.String():
		return workflow.PhaseApply
	default:
		return workflow.PhaseDownload
	}
}
