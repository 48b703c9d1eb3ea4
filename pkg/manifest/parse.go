package manifest

import (
	"encoding/json"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// ParseEnvelope parses raw as a deployment envelope, per spec.md §4.2:
// "Accept only a JSON object at the root. Missing workflow.action or a
// non-numeric action fails with BadFormat. update_manifest must be a
// string."
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "envelope is not a JSON object", err)
	}

	workflowRaw, ok := root["workflow"]
	if !ok {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "missing workflow block", nil)
	}
	var workflowFields map[string]json.RawMessage
	if err := json.Unmarshal(workflowRaw, &workflowFields); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "workflow block is not a JSON object", err)
	}
	actionRaw, ok := workflowFields["action"]
	if !ok {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "missing workflow.action", nil)
	}
	var actionNum int
	if err := json.Unmarshal(actionRaw, &actionNum); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "workflow.action is not numeric", err)
	}

	updateManifestRaw, ok := root["update_manifest"]
	if !ok {
		updateManifestRaw, ok = root["updateManifest"]
	}
	if !ok {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "missing update_manifest", nil)
	}
	var updateManifest string
	if err := json.Unmarshal(updateManifestRaw, &updateManifest); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "update_manifest must be a string", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "envelope failed full decode", err)
	}
	env.Workflow.Action = Action(actionNum)
	env.UpdateManifest = updateManifest

	return &env, nil
}

// ParseManifest re-parses the envelope's update_manifest string as JSON,
// per spec.md §4.2. It does not verify the signature or hash.
func ParseManifest(raw string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "update_manifest contents are not valid JSON", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
