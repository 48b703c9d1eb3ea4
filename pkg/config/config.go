// Package config loads and validates the agent's du-config.json (schema
// 1.1, spec.md §6). Grounded on the Default/Validate/EnsureDirectories
// shape of pkg/mcp/application/config/manager.go, adapted from that
// package's env+YAML overlay to the core's single fixed-shape JSON file
// (encoding/json only: the shape is dictated by the schemaVersion 1.1
// contract, not by anything a YAML/env-overlay library would add value
// to).
package config

import (
	"encoding/json"
	"os"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// SchemaVersion is the only schemaVersion this loader accepts.
const SchemaVersion = "1.1"

// ConnectionSource describes how an agent reaches its transport (spec.md
// §6's "connectionSource": opaque to the core beyond its two string
// fields).
type ConnectionSource struct {
	ConnectionType string `json:"connectionType"`
	ConnectionData string `json:"connectionData"`
}

// Agent is one entry in the top-level "agents" array.
type Agent struct {
	Name                     string            `json:"name"`
	RunAs                    string            `json:"runas"`
	ConnectionSource         ConnectionSource  `json:"connectionSource"`
	Manufacturer             string            `json:"manufacturer,omitempty"`
	Model                    string            `json:"model,omitempty"`
	AdditionalDeviceProperties map[string]string `json:"additionalDeviceProperties,omitempty"`
}

// Config is the typed form of du-config.json (spec.md §6).
type Config struct {
	SchemaVersion        string  `json:"schemaVersion"`
	ADUShellTrustedUsers []string `json:"aduShellTrustedUsers"`
	IotHubProtocol       string  `json:"iotHubProtocol"`
	CompatPropertyNames  string  `json:"compatPropertyNames,omitempty"`
	Manufacturer         string  `json:"manufacturer"`
	Model                string  `json:"model"`
	Agents               []Agent `json:"agents"`
}

// Default returns the configuration used when no du-config.json is present
// and the caller has not opted out of that fallback (mirrors the teacher's
// DefaultServerConfig). It fills every top-level field but declares no
// agents, so it does not pass Validate until at least one agent is added.
func Default() Config {
	return Config{
		SchemaVersion:        SchemaVersion,
		ADUShellTrustedUsers: []string{"adu", "do"},
		IotHubProtocol:       "mqtt",
		CompatPropertyNames:  "manufacturer,model",
		Manufacturer:         "contoso",
		Model:                "generic-device",
	}
}

// Load reads and validates du-config.json at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, apperrors.New(apperrors.CodeBadFormat, "config", "failed to read config file", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, apperrors.New(apperrors.CodeBadFormat, "config", "failed to parse config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.CompatPropertyNames == "" {
		cfg.CompatPropertyNames = "manufacturer,model"
	}
	return cfg, nil
}

// Validate checks the required fields of spec.md §6's schema.
func (c Config) Validate() error {
	if c.SchemaVersion != SchemaVersion {
		return apperrors.New(apperrors.CodeBadFormat, "config", "unsupported schemaVersion "+c.SchemaVersion, nil)
	}
	if c.IotHubProtocol == "" {
		return apperrors.New(apperrors.CodeBadFormat, "config", "missing iotHubProtocol", nil)
	}
	if len(c.Agents) == 0 {
		return apperrors.New(apperrors.CodeBadFormat, "config", "agents must declare at least one entry", nil)
	}
	for i, a := range c.Agents {
		if a.Name == "" {
			return apperrors.New(apperrors.CodeBadFormat, "config", "agent entry missing name", nil).With("index", i)
		}
		if a.ConnectionSource.ConnectionType == "" {
			return apperrors.New(apperrors.CodeBadFormat, "config", "agent entry missing connectionSource.connectionType", nil).With("index", i)
		}
	}
	return nil
}

// PrimaryAgent returns the first configured agent, the one the driver loop
// starts (spec.md §6 names agents as a list but the core drives a single
// agent process per invocation).
func (c Config) PrimaryAgent() (Agent, bool) {
	if len(c.Agents) == 0 {
		return Agent{}, false
	}
	return c.Agents[0], true
}

// EffectiveManufacturer and EffectiveModel resolve the per-agent override
// over the top-level default, mirroring spec.md §6's
// "manufacturer/model" fields appearing at both the config and agent
// level.
func (c Config) EffectiveManufacturer(a Agent) string {
	if a.Manufacturer != "" {
		return a.Manufacturer
	}
	return c.Manufacturer
}

func (c Config) EffectiveModel(a Agent) string {
	if a.Model != "" {
		return a.Model
	}
	return c.Model
}

// DiagnosticsConfig is the typed form of du-diagnostics-config.json
// (spec.md §6), scoped to what makes the data directory's
// diagnosticsoperationids/ layout real: whether diagnostics collection is on,
// the cap on how much it may write, and which logging components it covers.
type DiagnosticsConfig struct {
	Enabled       bool     `json:"enabled"`
	DataBudgetGB  float64  `json:"dataBudgetGB"`
	LogComponents []string `json:"logComponents,omitempty"`
}

// DefaultDiagnostics returns the configuration used when no
// du-diagnostics-config.json is present: diagnostics collection off.
func DefaultDiagnostics() DiagnosticsConfig {
	return DiagnosticsConfig{
		Enabled:      false,
		DataBudgetGB: 1,
	}
}

// LoadDiagnostics reads and validates du-diagnostics-config.json at path.
func LoadDiagnostics(path string) (DiagnosticsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DiagnosticsConfig{}, apperrors.New(apperrors.CodeBadFormat, "config", "failed to read diagnostics config file", err)
	}
	var dc DiagnosticsConfig
	if err := json.Unmarshal(data, &dc); err != nil {
		return DiagnosticsConfig{}, apperrors.New(apperrors.CodeBadFormat, "config", "failed to parse diagnostics config file", err)
	}
	if err := dc.Validate(); err != nil {
		return DiagnosticsConfig{}, err
	}
	return dc, nil
}

// Validate checks DiagnosticsConfig's fields. A disabled config is always
// valid regardless of DataBudgetGB, since nothing will be written.
func (dc DiagnosticsConfig) Validate() error {
	if dc.Enabled && dc.DataBudgetGB <= 0 {
		return apperrors.New(apperrors.CodeBadFormat, "config", "dataBudgetGB must be positive when diagnostics is enabled", nil)
	}
	return nil
}
