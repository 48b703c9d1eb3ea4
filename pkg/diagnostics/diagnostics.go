// Package diagnostics records diagnostics-collection operation ids under the
// data directory's diagnosticsoperationids/ (spec.md §6), the minimum that
// makes that part of the layout real: a timestamped, uniquely identified
// marker file per request, not a speculative log-upload subsystem.
// Grounded on pkg/snapshot's atomic-write-via-temp-file-and-rename pattern
// and pkg/downloader's use of google/uuid for per-call correlation ids.
package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Azure/iot-hub-device-update-core/pkg/config"
	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// Recorder writes one file per requested diagnostics collection under a
// fixed directory, named for the operation id so an external log-uploader
// can discover and claim pending requests by listing the directory.
type Recorder struct {
	dir string
	cfg config.DiagnosticsConfig
}

// NewRecorder wires a Recorder to the diagnosticsoperationids/ directory and
// the loaded diagnostics configuration.
func NewRecorder(dir string, cfg config.DiagnosticsConfig) *Recorder {
	return &Recorder{dir: dir, cfg: cfg}
}

// operation is the persisted record for one diagnostics collection request.
type operation struct {
	OperationID   string   `json:"operationId"`
	RequestedAt   string   `json:"requestedAt"`
	DataBudgetGB  float64  `json:"dataBudgetGB"`
	LogComponents []string `json:"logComponents,omitempty"`
}

// RecordRequest writes a new operation id file and returns the id, or
// ("", nil) if diagnostics collection is disabled (spec.md §6's
// diagnosticsoperationids/ only gets populated when enabled).
func (r *Recorder) RecordRequest() (string, error) {
	if !r.cfg.Enabled {
		return "", nil
	}

	id := uuid.NewString()
	op := operation{
		OperationID:   id,
		RequestedAt:   time.Now().UTC().Format(time.RFC3339),
		DataBudgetGB:  r.cfg.DataBudgetGB,
		LogComponents: r.cfg.LogComponents,
	}
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return "", apperrors.New(apperrors.CodeInternal, "diagnostics", "failed to marshal operation record", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", apperrors.New(apperrors.CodeInternal, "diagnostics", "failed to create diagnosticsoperationids directory", err)
	}

	path := filepath.Join(r.dir, id+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", apperrors.New(apperrors.CodeInternal, "diagnostics", "failed to write operation record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", apperrors.New(apperrors.CodeInternal, "diagnostics", "failed to commit operation record", err)
	}
	return id, nil
}

// PendingOperationIDs lists operation ids recorded but not yet removed by
// whatever external process claims and fulfills a diagnostics request.
func (r *Recorder) PendingOperationIDs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInternal, "diagnostics", "failed to list diagnosticsoperationids directory", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}
