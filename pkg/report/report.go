// Package report implements the reporting engine of spec.md §4.6: it
// renders the in-memory workflow tree as the nested reported-property
// document, applies the bundledUpdates suppression/clearing rules, and
// sends the one-shot startup message and service-property acknowledgement.
// Grounded on the JSON-document-building style of pkg/mcp/application/api
// response types; encoding/json only (no library here — the document
// shape is fixed by the IoT Hub twin schema and encoding/json field tags
// express it completely).
package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/transport"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
	"github.com/rs/zerolog"
)

// ContractModelID is the fixed DTMI the agent advertises in its startup
// message (spec.md §6).
const ContractModelID = "dtmi:azure:iot:deviceUpdateContractModel;2"

// DefaultCompatPropertyNames is used when a config does not override it.
const DefaultCompatPropertyNames = "manufacturer,model"

// DeviceProperties is the one-shot startup message payload (spec.md §4.6 /
// §6's "deviceProperties" block).
type DeviceProperties struct {
	Manufacturer         string            `json:"manufacturer"`
	Model                string            `json:"model"`
	AdditionalProperties map[string]string `json:"additionalProperties,omitempty"`
	ContractModelID      string            `json:"contractModelId"`
	AgentVersion         string            `json:"aduVer"`
	DoVersion            string            `json:"doVer,omitempty"`
	CompatPropertyNames  string            `json:"-"`
}

type startupMessage struct {
	DeviceProperties DeviceProperties `json:"deviceProperties"`
	CompatPropertyNames string         `json:"compatPropertyNames"`
}

// reportWorkflowRef is the workflow block of the reported document
// (spec.md §3 WorkflowRef, echoed back by id/action/retryTimestamp).
type reportWorkflowRef struct {
	Action         int    `json:"action"`
	ID             string `json:"id"`
	RetryTimestamp string `json:"retryTimestamp,omitempty"`
}

type lastInstallResult struct {
	UpdateInstallResult result.Result   `json:"updateInstallResult"`
	BundledUpdates      json.RawMessage `json:"bundledUpdates,omitempty"`
}

// Document is the nested status document of spec.md §4.6.
type Document struct {
	State              int                `json:"state"`
	Workflow           reportWorkflowRef  `json:"workflow"`
	InstalledUpdateID  string             `json:"installedUpdateId,omitempty"`
	LastInstallResult  *lastInstallResult `json:"lastInstallResult,omitempty"`
}

// BuildDocument renders root's current state as the reported document.
// Exported standalone (rather than only as a Reporter method) so tests can
// assert on its shape without a transport.
func BuildDocument(root *workflow.Node) Document {
	doc := Document{
		State: int(root.State),
		Workflow: reportWorkflowRef{
			Action:         int(root.Action),
			ID:             root.ID,
			RetryTimestamp: root.RetryTimestamp,
		},
	}

	// installedUpdateId is only ever populated on the Idle state reached by
	// a successful apply (spec.md §4.6): a cancelled-to-Idle transition
	// reports a failure result, and a fresh/never-run root reports the
	// zero-value CodeFailureNone, so both are excluded by this check.
	if root.State == workflow.StateIdle && root.Result.IsSuccess() && root.Manifest != nil {
		doc.InstalledUpdateID = root.Manifest.UpdateId.String()
	}

	if root.Result.Code != result.CodeFailureNone {
		doc.LastInstallResult = &lastInstallResult{UpdateInstallResult: root.Result}
	}

	switch {
	case root.State == workflow.StateDownloadStarted:
		// spec.md §4.6: "any previous bundledUpdates block is explicitly
		// cleared by reporting a null so the back-end discards stale
		// per-leaf results."
		if doc.LastInstallResult == nil {
			doc.LastInstallResult = &lastInstallResult{UpdateInstallResult: root.Result}
		}
		doc.LastInstallResult.BundledUpdates = json.RawMessage("null")
	case root.Manifest != nil && root.Manifest.IsComposite() && len(root.Children) > 0:
		bundled := map[string]result.Result{}
		for _, child := range root.Children {
			bundled[leafKey(child.StepIndex)] = child.Result
		}
		raw, err := json.Marshal(bundled)
		if err == nil {
			if doc.LastInstallResult == nil {
				doc.LastInstallResult = &lastInstallResult{UpdateInstallResult: root.Result}
			}
			doc.LastInstallResult.BundledUpdates = raw
		}
	}

	return doc
}

// leafKey maps a step index to its bundledUpdates property key, avoiding
// characters the transport restricts in property map keys (no ':' or '-').
func leafKey(stepIndex int) string {
	return fmt.Sprintf("leaf_%d", stepIndex)
}

// Reporter implements workflow.Reporter against a transport.PropertyClient.
type Reporter struct {
	log       zerolog.Logger
	client    transport.PropertyClient
	device    DeviceProperties
	startupSent bool
}

// NewReporter wires a Reporter to its transport client and device identity.
func NewReporter(client transport.PropertyClient, device DeviceProperties) *Reporter {
	if device.CompatPropertyNames == "" {
		device.CompatPropertyNames = DefaultCompatPropertyNames
	}
	if device.ContractModelID == "" {
		device.ContractModelID = ContractModelID
	}
	return &Reporter{
		log:    logging.Component("report"),
		client: client,
		device: device,
	}
}

// Report sends the current root state as the reported "agent" property.
// Implements workflow.Reporter.
func (r *Reporter) Report(root *workflow.Node) error {
	if root == nil {
		return nil
	}
	doc := BuildDocument(root)
	r.log.Debug().Str("workflow_id", root.ID).Int("state", doc.State).Msg("reporting workflow state")
	return r.client.ReportAgentProperty(context.Background(), doc)
}

// SendStartupMessage emits the one-shot device-properties message on first
// successful connection (spec.md §4.6); idempotent across repeated calls.
func (r *Reporter) SendStartupMessage(ctx context.Context) error {
	if r.startupSent {
		return nil
	}
	msg := startupMessage{
		DeviceProperties:    r.device,
		CompatPropertyNames: r.device.CompatPropertyNames,
	}
	if err := r.client.ReportAgentProperty(ctx, msg); err != nil {
		return err
	}
	r.startupSent = true
	return nil
}

// Acknowledge sends the bounded-size echo-back acknowledgement of an
// inbound "service" property (spec.md §6: "{status, version, value:
// <echoed envelope with updateManifestSignature and fileUrls removed>}").
func (r *Reporter) Acknowledge(ctx context.Context, version int, env manifest.Envelope) error {
	return r.client.AcknowledgeServiceProperty(ctx, version, 200, env.Redacted())
}
