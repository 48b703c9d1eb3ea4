// Package workflow_test exercises the end-to-end scenarios of spec.md §8
// (S1, S5) by wiring the real Machine against the real step executor,
// reporter, and a scripted simulator handler — deliberately an external
// test package so it can depend on pkg/steps and pkg/report without
// creating an import cycle with pkg/workflow itself.
package workflow_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/component"
	"github.com/Azure/iot-hub-device-update-core/pkg/handlers"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/reconcile"
	"github.com/Azure/iot-hub-device-update-core/pkg/registry"
	"github.com/Azure/iot-hub-device-update-core/pkg/report"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/snapshot"
	"github.com/Azure/iot-hub-device-update-core/pkg/steps"
	"github.com/Azure/iot-hub-device-update-core/pkg/transport"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

type singleHandlerRegistry struct {
	updateType string
	handler    registry.ContentHandler
}

func (r *singleHandlerRegistry) LookupHandler(updateType string) (registry.ContentHandler, error) {
	return r.handler, nil
}

type noopResolver struct{}

func (noopResolver) Resolve(ctx context.Context, workflowID, fileID, destPath string) (string, error) {
	panic("not expected to be called: scenario has no reference steps")
}

func TestScenarioS1SingleStepSuccessReportsFullSequence(t *testing.T) {
	sim := handlers.NewSimulator()
	reg := &singleHandlerRegistry{updateType: "test/noop:1", handler: sim}
	executor := steps.NewExecutor(reg, component.HostOnly{}, noopResolver{}, t.TempDir())
	fake := transport.NewFake()
	reporter := report.NewReporter(fake, report.DeviceProperties{Manufacturer: "contoso", Model: "widget"})

	m := workflow.NewMachine(executor, reporter, nil, nil)

	updateID := manifest.UpdateId{Provider: "contoso", Name: "widget", Version: "1.0"}
	mf := &manifest.Manifest{
		UpdateType: "test/noop:1",
		UpdateId:   updateID,
		Instructions: manifest.Instructions{
			Steps: []manifest.Step{{Type: manifest.StepTypeInline, Handler: "test/noop:1"}},
		},
	}
	root := workflow.NewRoot("w1", mf, manifest.ActionProcessDeployment)

	if err := m.Submit(context.Background(), root); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	wantStates := []int{
		int(workflow.StateDeploymentInProgress),
		int(workflow.StateDownloadStarted),
		int(workflow.StateDownloadSucceeded),
		int(workflow.StateInstallStarted),
		int(workflow.StateInstallSucceeded),
		int(workflow.StateApplyStarted),
		int(workflow.StateIdle),
	}
	if len(fake.Reported) != len(wantStates) {
		t.Fatalf("expected %d reported states, got %d: %#v", len(wantStates), len(fake.Reported), fake.Reported)
	}
	for i, want := range wantStates {
		doc, ok := fake.Reported[i].(report.Document)
		if !ok {
			t.Fatalf("reported[%d] is not a report.Document: %#v", i, fake.Reported[i])
		}
		if doc.State != want {
			t.Fatalf("reported[%d].State = %d, want %d", i, doc.State, want)
		}
	}

	final := fake.Reported[len(fake.Reported)-1].(report.Document)
	if final.InstalledUpdateID != updateID.String() {
		t.Fatalf("expected final installedUpdateId %q, got %q", updateID.String(), final.InstalledUpdateID)
	}
}

func TestScenarioS5RebootRequiredSuspendsReportingThenReconciles(t *testing.T) {
	sim := handlers.NewSimulator()
	sim.ScriptApply(handlers.Outcome{Result: result.SuccessRequiredReboot()})
	reg := &singleHandlerRegistry{updateType: "test/noop:1", handler: sim}
	executor := steps.NewExecutor(reg, component.HostOnly{}, noopResolver{}, t.TempDir())
	fake := transport.NewFake()
	reporter := report.NewReporter(fake, report.DeviceProperties{Manufacturer: "contoso", Model: "widget"})

	rebooted := false
	m := workflow.NewMachine(executor, reporter, func() error { rebooted = true; return nil }, nil)

	updateID := manifest.UpdateId{Provider: "contoso", Name: "widget", Version: "5.0"}
	mf := &manifest.Manifest{
		UpdateType: "test/noop:1",
		UpdateId:   updateID,
		Instructions: manifest.Instructions{
			Steps: []manifest.Step{{Type: manifest.StepTypeInline, Handler: "test/noop:1"}},
		},
	}
	root := workflow.NewRoot("w5", mf, manifest.ActionProcessDeployment)

	if err := m.Submit(context.Background(), root); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !rebooted {
		t.Fatal("expected reboot to have been triggered")
	}
	if m.SystemRebootState() != workflow.RebootInProgress {
		t.Fatalf("expected RebootInProgress, got %v", m.SystemRebootState())
	}

	reportsBeforeReconcile := len(fake.Reported)

	// Simulate the restart: is_installed now reports Installed for the
	// already-applied leaf, so reconciliation reports Idle with the
	// installed update id and no extra reported-property noise beyond it.
	sim.ScriptIsInstalled(handlers.Outcome{Result: result.Installed()})
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "snapshot.json"))
	decision, err := reconcile.New(store, executor, reporter).Reconcile(context.Background(), root)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if decision.Outcome != reconcile.OutcomeAlreadyInstalled {
		t.Fatalf("expected OutcomeAlreadyInstalled, got %v", decision.Outcome)
	}
	if len(fake.Reported) != reportsBeforeReconcile+1 {
		t.Fatalf("expected exactly one additional report after reconciliation")
	}
	final := fake.Reported[len(fake.Reported)-1].(report.Document)
	if final.InstalledUpdateID != updateID.String() {
		t.Fatalf("expected installedUpdateId after reconciliation, got %q", final.InstalledUpdateID)
	}
}
