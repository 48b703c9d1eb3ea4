// Package manifest parses the signed deployment descriptor envelope
// (spec.md §3 Envelope/Manifest) and verifies its detached signature and
// self-declared hash (spec.md §4.2), grounded on the teacher's strict
// encoding/json + typed-accessor parsing style
// (pkg/mcp/domain/types/config in the teacher repo).
package manifest

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// Action is the requested workflow action from the control plane (spec.md
// §4.1). ProcessDeployment and Cancel are authoritative; Download, Install,
// and Apply are accepted as back-compat explicit-phase shims (spec.md §9
// Open Question) whose auto-advance is disabled.
type Action int

const (
	ActionUnknown Action = iota
	ActionDownload
	ActionInstall
	ActionApply
	ActionCancel
	ActionProcessDeployment
)

func (a Action) String() string {
	switch a {
	case ActionDownload:
		return "Download"
	case ActionInstall:
		return "Install"
	case ActionApply:
		return "Apply"
	case ActionCancel:
		return "Cancel"
	case ActionProcessDeployment:
		return "ProcessDeployment"
	default:
		return "Unknown"
	}
}

// IsExplicitPhase reports whether a is one of the legacy explicit-phase
// actions whose auto-advance must be suppressed.
func (a Action) IsExplicitPhase() bool {
	return a == ActionDownload || a == ActionInstall || a == ActionApply
}

// UpdateId identifies an update uniquely by provider/name/version, per
// spec.md §3.
type UpdateId struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

// Equal reports field-wise equality, per spec.md §3's UpdateId invariant.
func (u UpdateId) Equal(other UpdateId) bool {
	return u.Provider == other.Provider && u.Name == other.Name && u.Version == other.Version
}

func (u UpdateId) String() string {
	return fmt.Sprintf("%s:%s:%s", u.Provider, u.Name, u.Version)
}

func (u UpdateId) Validate() error {
	if u.Provider == "" || u.Name == "" || u.Version == "" {
		return apperrors.New(apperrors.CodeBadFormat, "manifest", "updateId requires non-empty provider, name, and version", nil)
	}
	return nil
}

// FileEntity is a downloadable file referenced from a manifest or a step.
type FileEntity struct {
	FileID         string            `json:"fileId"`
	TargetFilename string            `json:"fileName"`
	DownloadURI    string            `json:"downloadUri,omitempty"`
	Hashes         map[string]string `json:"hashes"`
	SizeInBytes    int64             `json:"sizeInBytes,omitempty"`
}

// StepType distinguishes inline steps (carry files/handler directly) from
// reference steps (point at a detached child manifest).
type StepType string

const (
	StepTypeInline    StepType = "inline"
	StepTypeReference StepType = "reference"
)

// CompatibilitySet is one property-map a step or manifest declares itself
// compatible with; compared against the device/component's own properties.
type CompatibilitySet map[string]string

// Step is one entry in a manifest's instructions.steps list (spec.md §3).
type Step struct {
	Type StepType `json:"type"`

	// Inline step fields.
	Handler           string             `json:"handler,omitempty"`
	HandlerProperties json.RawMessage    `json:"handlerProperties,omitempty"`
	Files             []string           `json:"files,omitempty"`
	InstalledCriteria string             `json:"installedCriteria,omitempty"`

	// Reference step fields.
	DetachedManifestFileID string             `json:"detachedManifestFileId,omitempty"`
	Compatibility          []CompatibilitySet `json:"compatibility,omitempty"`
}

func (s Step) IsInline() bool    { return s.Type == StepTypeInline }
func (s Step) IsReference() bool { return s.Type == StepTypeReference }

func (s Step) Validate() error {
	switch s.Type {
	case StepTypeInline:
		if s.Handler == "" {
			return apperrors.New(apperrors.CodeBadFormat, "manifest", "inline step missing handler", nil)
		}
	case StepTypeReference:
		if s.DetachedManifestFileID == "" {
			return apperrors.New(apperrors.CodeBadFormat, "manifest", "reference step missing detachedManifestFileId", nil)
		}
	default:
		return apperrors.New(apperrors.CodeBadFormat, "manifest", fmt.Sprintf("unknown step type %q", s.Type), nil)
	}
	return nil
}

// Instructions is the ordered list of steps a manifest drives.
type Instructions struct {
	Steps []Step `json:"steps"`
}

// Manifest is the signed inner document (spec.md §3).
type Manifest struct {
	UpdateType        string                `json:"updateType"`
	UpdateId          UpdateId              `json:"updateId"`
	InstalledCriteria string                `json:"installedCriteria,omitempty"`
	Compatibility     []CompatibilitySet    `json:"compatibility"`
	Files             map[string]FileEntity `json:"files"`
	Instructions      Instructions          `json:"instructions"`
	CreatedTimestamp  string                `json:"createdDateTime,omitempty"`
}

// Validate checks the required fields spec.md §4.2 names (missing required
// fields fail with BadFormat).
func (m *Manifest) Validate() error {
	if m.UpdateType == "" {
		return apperrors.New(apperrors.CodeBadFormat, "manifest", "missing updateType", nil)
	}
	if err := m.UpdateId.Validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for id, f := range m.Files {
		if f.FileID != "" && f.FileID != id {
			return apperrors.New(apperrors.CodeBadFormat, "manifest", fmt.Sprintf("file key %q does not match fileId %q", id, f.FileID), nil)
		}
		if seen[id] {
			return apperrors.New(apperrors.CodeBadFormat, "manifest", fmt.Sprintf("duplicate file id %q", id), nil)
		}
		seen[id] = true
	}
	for i, s := range m.Instructions.Steps {
		if err := s.Validate(); err != nil {
			return apperrors.New(apperrors.CodeBadFormat, "manifest", fmt.Sprintf("step %d invalid: %v", i, err), err)
		}
	}
	return nil
}

// IsComposite reports whether this manifest has more than zero steps that
// make it a composite deployment (bundledUpdates is emitted only then).
func (m *Manifest) IsComposite() bool {
	return len(m.Instructions.Steps) > 0
}

// WorkflowRef is the envelope's workflow control block.
type WorkflowRef struct {
	Action         Action `json:"action"`
	ID             string `json:"id"`
	RetryTimestamp string `json:"retryTimestamp,omitempty"`
}

// Envelope is the outer property payload delivered by the control plane
// (spec.md §3).
type Envelope struct {
	Workflow                WorkflowRef       `json:"workflow"`
	UpdateManifest          string            `json:"updateManifest"`
	UpdateManifestSignature string            `json:"updateManifestSignature"`
	FileURLs                map[string]string `json:"fileUrls,omitempty"`
}

// Redacted returns a copy of the envelope with the signature and file URLs
// stripped, per spec.md §6's property-acknowledgement rule.
func (e Envelope) Redacted() Envelope {
	r := e
	r.UpdateManifestSignature = ""
	r.FileURLs = nil
	return r
}
