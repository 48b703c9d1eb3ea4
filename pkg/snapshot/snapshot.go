// Package snapshot persists and reloads the minimal workflow snapshot of
// spec.md §3 ("Persistence"): the handful of fields needed to resume a
// deployment across a reboot or agent restart. Grounded on the
// atomic-write-via-temp-file-and-rename helper seen in
// pkg/registry's atomicWriteFile (itself grounded on the teacher's
// pkg/mcp/domain/internal/common/paths.go rename-based replace pattern).
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

// Snapshot is the minimal persisted state of spec.md §3, written atomically
// before a reboot or agent restart and consulted on startup.
type Snapshot struct {
	CurrentStep        string              `json:"currentStep"`
	LastResult         result.Result       `json:"lastResult"`
	SystemRebootState  workflow.RebootState `json:"systemRebootState"`
	AgentRestartState  workflow.RebootState `json:"agentRestartState"`
	ExpectedUpdateID   manifest.UpdateId   `json:"expectedUpdateId"`
	WorkflowID         string              `json:"workflowId"`
	WorkFolder         string              `json:"workFolder"`
	PendingReportedJSON json.RawMessage    `json:"pendingReportedJson,omitempty"`
}

// Store reads and writes a Snapshot to a single known file path.
type Store struct {
	path string
}

// NewStore wires a Store to the known snapshot file path (spec.md §6's
// data directory layout places this alongside the downloads/ sandbox
// tree).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes s to the store's file, replacing any prior
// snapshot (spec.md §3: "written atomically ... before a reboot or agent
// restart").
func (st *Store) Save(s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.CodeInternal, "snapshot", "failed to marshal snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return apperrors.New(apperrors.CodeInternal, "snapshot", "failed to create snapshot directory", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.New(apperrors.CodeInternal, "snapshot", "failed to write snapshot", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return apperrors.New(apperrors.CodeInternal, "snapshot", "failed to commit snapshot", err)
	}
	return nil
}

// Load reads the persisted snapshot. A missing file is not an error: it
// returns (Snapshot{}, false, nil), the state a fresh install or a device
// that has never suspended a workflow starts from.
func (st *Store) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, apperrors.New(apperrors.CodeInternal, "snapshot", "failed to read snapshot", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, apperrors.New(apperrors.CodeBadFormat, "snapshot", "failed to parse snapshot", err)
	}
	return s, true, nil
}

// Clear removes the persisted snapshot, e.g. once a resumed workflow
// reaches Idle again and no longer needs to be replayed.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !os.IsNotExist(err) {
		return apperrors.New(apperrors.CodeInternal, "snapshot", "failed to clear snapshot", err)
	}
	return nil
}
