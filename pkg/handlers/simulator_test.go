package handlers

import (
	"context"
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

func nodeWithComponent(id string) *workflow.Node {
	m := &workflow.Node{}
	if id != "" {
		m.SelectedComponents = []map[string]string{{"id": id}}
	}
	return m
}

func TestSimulatorDefaultsToSuccessWhenUnscripted(t *testing.T) {
	sim := NewSimulator()
	r := sim.Download(context.Background(), nodeWithComponent(""))
	if !r.IsSuccess() {
		t.Fatalf("expected default success, got %+v", r)
	}
	if r := sim.IsInstalled(context.Background(), nodeWithComponent("")); r.Code != result.CodeNotInstalled {
		t.Fatalf("expected default NotInstalled, got %+v", r)
	}
}

func TestSimulatorScriptedOutcomeMatchesComponent(t *testing.T) {
	sim := NewSimulator()
	sim.ScriptDownload(
		Outcome{ComponentID: "c2", Result: result.Failuref(result.CodeFailureGeneric, 0xCAFE, "simulated")},
	)

	r1 := sim.Download(context.Background(), nodeWithComponent("c1"))
	if !r1.IsSuccess() {
		t.Fatalf("expected c1 to fall through to default success, got %+v", r1)
	}
	r2 := sim.Download(context.Background(), nodeWithComponent("c2"))
	if !r2.IsFailure() || r2.ExtendedCode != 0xCAFE || r2.Details != "simulated" {
		t.Fatalf("expected scripted failure for c2, got %+v", r2)
	}
}

func TestSimulatorRecordsCallOrder(t *testing.T) {
	sim := NewSimulator()
	sim.Download(context.Background(), nodeWithComponent("x"))
	sim.Install(context.Background(), nodeWithComponent("x"))

	want := []string{"download(x)", "install(x)"}
	if len(sim.Calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), sim.Calls)
	}
	for i := range want {
		if sim.Calls[i] != want[i] {
			t.Fatalf("Calls[%d] = %q, want %q", i, sim.Calls[i], want[i])
		}
	}
}
