// Package downloader bridges to the externally registered contentDownloader
// extension for the one thing the core itself needs from it: fetching a
// reference step's detached child manifest into the workflow sandbox
// (spec.md §4.5/§1 Non-goals: "the core does not itself download bytes").
// Grounded on pkg/component's Subprocess bridge — the same CLI-contract
// shape (JSON on stdin, JSON/text on stdout via runner.CommandRunner),
// generalized from component selection to detached-manifest resolution.
package downloader

import (
	"context"
	"encoding/json"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/runner"
	"github.com/google/uuid"
)

// resolveRequest is the CLI contract's stdin payload for a detached-manifest
// fetch: the workflow and file identifying the request, and the sandbox
// path the content downloader must place the file at.
type resolveRequest struct {
	OperationID string `json:"operationId"`
	WorkflowID  string `json:"workflowId"`
	FileID      string `json:"fileId"`
	DestPath    string `json:"destPath"`
}

// Subprocess implements steps.DetachedManifestResolver by shelling out to
// the registered contentDownloader binary with `--resolve-detached-manifest`;
// the binary is expected to fetch the file to DestPath and print the raw
// manifest JSON text on stdout.
type Subprocess struct {
	BinaryPath string
	Run        runner.CommandRunner
}

// NewSubprocess wires a Subprocess resolver to the content downloader
// binary staged by `--register-extension --extension-type contentDownloader`.
func NewSubprocess(binaryPath string, run runner.CommandRunner) *Subprocess {
	return &Subprocess{BinaryPath: binaryPath, Run: run}
}

// Resolve fetches the detached manifest named by fileID into destPath and
// returns its raw JSON text. Each call is tagged with a fresh operation id
// (mirrors the teacher's checkpoint/session id generation) so the
// downloader's own logs can be correlated with the agent's.
func (s *Subprocess) Resolve(ctx context.Context, workflowID, fileID, destPath string) (string, error) {
	req := resolveRequest{
		OperationID: uuid.NewString(),
		WorkflowID:  workflowID,
		FileID:      fileID,
		DestPath:    destPath,
	}
	input, err := json.Marshal(req)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "downloader", "failed to marshal resolve request", err)
	}

	out, err := s.Run.RunCommandStdin(ctx, string(input), s.BinaryPath, "--resolve-detached-manifest")
	if err != nil {
		return "", errors.New(errors.CodePhaseFailed, "downloader", "content downloader extension failed", err)
	}
	return out, nil
}
