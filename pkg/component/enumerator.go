// Package component implements the optional component-enumeration
// extension contract of spec.md §4.4: given a compatibility-property set,
// return the JSON array of device components that match it. Grounded on
// the teacher's narrow extension-interface style
// (pkg/mcp/application/services/core/server_config.go: an interface
// accepted at construction time, a concrete implementation wired at
// cmd/ startup) and pkg/common/runner/command.go for the subprocess
// bridge to an externally registered enumerator binary.
package component

import (
	"context"
	"encoding/json"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/runner"
)

// Enumerator selects the components on this device matching a compatibility
// property set. Components are opaque property maps; the core never
// interprets their contents beyond passing them back to handlers.
type Enumerator interface {
	SelectComponents(ctx context.Context, compat manifest.CompatibilitySet) ([]map[string]string, error)
}

// HostOnly is the default enumerator used when no componentEnumerator
// extension is registered: every reference step implicitly targets the
// host device with no per-component iteration (spec.md §4.4).
type HostOnly struct{}

func (HostOnly) SelectComponents(ctx context.Context, compat manifest.CompatibilitySet) ([]map[string]string, error) {
	return nil, nil
}

// selectComponentsResponse is the enumerator extension's wire contract:
// {"components": [ {component-props}, ... ]}.
type selectComponentsResponse struct {
	Components []map[string]string `json:"components"`
}

// Subprocess bridges to an externally registered enumerator binary via the
// CLI contract described in spec.md §4.3/§4.4: the binary is invoked with
// the compatibility JSON on stdin and must print {"components": [...]} on
// stdout.
type Subprocess struct {
	BinaryPath string
	Run        runner.CommandRunner
}

// NewSubprocess wires a Subprocess enumerator to its registered binary.
func NewSubprocess(binaryPath string, run runner.CommandRunner) *Subprocess {
	return &Subprocess{BinaryPath: binaryPath, Run: run}
}

func (s *Subprocess) SelectComponents(ctx context.Context, compat manifest.CompatibilitySet) ([]map[string]string, error) {
	input, err := json.Marshal(compat)
	if err != nil {
		return nil, errors.New(errors.CodeComponentSelectionFailed, "component", "failed to marshal compatibility set", err)
	}

	out, err := s.Run.RunCommandStdin(ctx, string(input), s.BinaryPath, "--select-components")
	if err != nil {
		return nil, errors.New(errors.CodeComponentSelectionFailed, "component", "enumerator extension failed", err)
	}

	var resp selectComponentsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, errors.New(errors.CodeComponentSelectionFailed, "component", "enumerator returned a non-array / malformed response", err)
	}
	return resp.Components, nil
}
