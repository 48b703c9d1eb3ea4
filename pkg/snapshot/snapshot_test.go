package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "nested", "snapshot.json"))
	s, ok, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing snapshot")
	}
	if s.WorkflowID != "" {
		t.Fatalf("expected zero-value snapshot, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	st := NewStore(path)

	want := Snapshot{
		CurrentStep:       "DownloadSucceeded",
		LastResult:        result.SuccessRequiredReboot(),
		SystemRebootState: workflow.RebootInProgress,
		ExpectedUpdateID:  manifest.UpdateId{Provider: "contoso", Name: "widget", Version: "2.0"},
		WorkflowID:        "wf-42",
		WorkFolder:        "/var/lib/adu/downloads/wf-42",
	}
	if err := st.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after Save")
	}
	// Snapshot embeds a json.RawMessage (a byte slice), so it cannot be
	// compared with == / != — compare field by field instead.
	if got.CurrentStep != want.CurrentStep ||
		got.LastResult != want.LastResult ||
		got.SystemRebootState != want.SystemRebootState ||
		got.ExpectedUpdateID != want.ExpectedUpdateID ||
		got.WorkflowID != want.WorkflowID ||
		got.WorkFolder != want.WorkFolder {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestSaveOverwritesPriorSnapshotAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	st := NewStore(path)

	if err := st.Save(Snapshot{WorkflowID: "first"}); err != nil {
		t.Fatalf("Save #1: %v", err)
	}
	if err := st.Save(Snapshot{WorkflowID: "second"}); err != nil {
		t.Fatalf("Save #2: %v", err)
	}
	got, _, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WorkflowID != "second" {
		t.Fatalf("expected overwritten snapshot, got %+v", got)
	}
}

func TestClearRemovesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	st := NewStore(path)
	if err := st.Save(Snapshot{WorkflowID: "wf-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, ok, err := st.Load()
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if ok {
		t.Fatal("expected no snapshot after Clear")
	}
	if err := st.Clear(); err != nil {
		t.Fatalf("Clear on already-clear store should be a no-op, got: %v", err)
	}
}
