package cmd

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Azure/iot-hub-device-update-core/pkg/component"
	"github.com/Azure/iot-hub-device-update-core/pkg/config"
	"github.com/Azure/iot-hub-device-update-core/pkg/diagnostics"
	"github.com/Azure/iot-hub-device-update-core/pkg/downloader"
	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/reconcile"
	"github.com/Azure/iot-hub-device-update-core/pkg/registry"
	"github.com/Azure/iot-hub-device-update-core/pkg/report"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/runner"
	"github.com/Azure/iot-hub-device-update-core/pkg/snapshot"
	"github.com/Azure/iot-hub-device-update-core/pkg/steps"
	"github.com/Azure/iot-hub-device-update-core/pkg/transport"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

// buildVersion is the agent version reported as deviceProperties.aduVer
// (spec.md §6). A real packaging build overrides this at link time; the
// fallback keeps local invocations meaningful.
var buildVersion = "0.1.0-dev"

// extensionKinds maps the --extension-type flag's accepted strings to their
// registry.Kind, per spec.md §6.
var extensionKinds = map[string]registry.Kind{
	"contentDownloader":      registry.KindContentDownloader,
	"updateContentHandler":   registry.KindUpdateContentHandler,
	"componentEnumerator":    registry.KindComponentEnumerator,
	"contentDownloadHandler": registry.KindContentDownloadHandler,
}

func runRoot(cmd *cobra.Command, args []string) error {
	logging.SetLevel(logging.LevelFromInt(logLevel))

	if registerExtensionPath != "" {
		return runRegisterExtension()
	}
	if healthCheck {
		return runHealthCheck()
	}
	if printConfig {
		return runPrintConfig()
	}
	return runAgent(cmd.Context())
}

func runRegisterExtension() error {
	kind, ok := extensionKinds[extensionType]
	if !ok {
		return apperrors.New(apperrors.CodeBadFormat, "cmd", "unknown --extension-type "+extensionType, nil)
	}
	reg := registry.NewRegistry(dataDir, registry.PluginLoader{})
	record, err := reg.RegisterExtension(kind, registerExtensionPath, extensionID)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s: %s (sha256=%s)\n", extensionType, record.FileName, record.Hashes["sha256"])
	return nil
}

func runHealthCheck() error {
	reg := registry.NewRegistry(dataDir, registry.PluginLoader{})
	if err := reg.HealthCheck(); err != nil {
		return err
	}
	fmt.Println("healthy")
	return nil
}

func runPrintConfig() error {
	cfg, err := loadOrDefaultConfig()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.New(apperrors.CodeInternal, "cmd", "failed to marshal config as YAML", err)
	}
	fmt.Print(string(out))
	return nil
}

func loadOrDefaultConfig() (config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func loadOrDefaultDiagnosticsConfig() (config.DiagnosticsConfig, error) {
	if _, err := os.Stat(diagnosticsConfigPath); os.IsNotExist(err) {
		return config.DefaultDiagnostics(), nil
	}
	return config.LoadDiagnostics(diagnosticsConfigPath)
}

// loadRootKey parses a PEM-encoded public key (PKIX, i.e. "PUBLIC KEY") from
// path for manifest.NewVerifier. The core carries no production signing key
// material of its own — spec.md §4.2's trusted root is provisioned at
// device-setup time, not baked into this binary's source — so it is always
// supplied out of band.
func loadRootKey(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "cmd", "failed to read root key file", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "cmd", "root key file is not PEM-encoded", nil)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeBadFormat, "cmd", "failed to parse root public key", err)
	}
	return key, nil
}

func runAgent(ctx context.Context) error {
	log := logging.Component("cmd")

	cfg, err := loadOrDefaultConfig()
	if err != nil {
		return err
	}
	agent, ok := cfg.PrimaryAgent()
	if !ok {
		return apperrors.New(apperrors.CodeBadFormat, "cmd", "config declares no agents", nil)
	}

	rootKey, err := loadRootKey(rootKeyPath)
	if err != nil {
		return err
	}
	verifier := manifest.NewVerifier(rootKey)

	reg := registry.NewRegistry(dataDir, registry.PluginLoader{})

	var enumerator component.Enumerator = component.HostOnly{}
	if path, ok, err := reg.ComponentEnumeratorPath(); err != nil {
		return err
	} else if ok {
		enumerator = component.NewSubprocess(path, runner.DefaultCommandRunner{})
	}

	downloaderPath, err := reg.ContentDownloaderPath()
	if err != nil {
		return apperrors.New(apperrors.CodeHandlerLoadFailed, "cmd", "no contentDownloader extension registered", err)
	}
	resolver := downloader.NewSubprocess(downloaderPath, runner.DefaultCommandRunner{})

	sandboxRoot := filepath.Join(dataDir, "downloads")
	executor := steps.NewExecutor(reg, enumerator, resolver, sandboxRoot)

	// No IoT Hub device SDK is wired here (see DESIGN.md): the in-memory
	// Fake stands in for whatever PropertyClient a real deployment supplies
	// via -e/-c, since the core treats the property channel as an external
	// collaborator it is handed, not one it implements.
	transportClient := transport.NewFake()

	device := report.DeviceProperties{
		Manufacturer:         cfg.EffectiveManufacturer(agent),
		Model:                cfg.EffectiveModel(agent),
		AdditionalProperties: agent.AdditionalDeviceProperties,
		AgentVersion:         buildVersion,
		CompatPropertyNames:  cfg.CompatPropertyNames,
	}
	reporter := report.NewReporter(transportClient, device)

	snapStore := snapshot.NewStore(filepath.Join(dataDir, "snapshot.json"))
	reconciler := reconcile.New(snapStore, executor, reporter)

	diagCfg, err := loadOrDefaultDiagnosticsConfig()
	if err != nil {
		return err
	}
	diagRecorder := diagnostics.NewRecorder(filepath.Join(dataDir, "diagnosticsoperationids"), diagCfg)
	if id, err := diagRecorder.RecordRequest(); err != nil {
		log.Warn().Err(err).Msg("failed to record diagnostics operation id")
	} else if id != "" {
		log.Info().Str("operation_id", id).Msg("diagnostics collection requested at startup")
	}

	machine := workflow.NewMachine(executor, reporter, rebootFunc(dataDir), agentRestartFunc(dataDir))

	var (
		mu             sync.Mutex
		reconciledOnce bool
	)

	// handleDesiredProperty is the sole entry point into the machine: spec.md
	// §5 drives the whole core from a single-threaded cooperative loop, so
	// every inbound "service" property delivery is serialized on mu even
	// though transport.Fake never calls concurrently itself.
	handleDesiredProperty := func(ctx context.Context, raw string, version int) {
		mu.Lock()
		defer mu.Unlock()

		env, err := manifest.ParseEnvelope([]byte(raw))
		if err != nil {
			log.Warn().Err(err).Msg("discarding malformed desired property")
			return
		}
		if err := reporter.Acknowledge(ctx, version, *env); err != nil {
			log.Warn().Err(err).Msg("failed to acknowledge desired property")
		}

		mf, err := verifier.VerifyEnvelope(env)
		if err != nil {
			log.Warn().Err(err).Str("workflow_id", env.Workflow.ID).Msg("envelope failed verification, no handler invoked")
			failed := workflow.NewRoot(env.Workflow.ID, nil, env.Workflow.Action)
			failed.State = workflow.StateFailed
			failed.Result = result.Failuref(result.CodeFailureSignature, 0, "%v", err)
			reporter.Report(failed)
			return
		}

		root := workflow.NewRoot(env.Workflow.ID, mf, env.Workflow.Action)
		root.RetryTimestamp = env.Workflow.RetryTimestamp

		if !reconciledOnce {
			reconciledOnce = true
			root.EnsureChildren(mf.Instructions.Steps)
			decision, err := reconciler.Reconcile(ctx, root)
			if err != nil {
				log.Error().Err(err).Msg("startup reconciliation failed")
				return
			}
			if decision.Outcome == reconcile.OutcomeResume {
				if err := machine.Resume(ctx, root, decision.ResumePhase); err != nil {
					log.Error().Err(err).Msg("resume failed")
				}
			}
		} else if err := machine.Submit(ctx, root); err != nil {
			log.Error().Err(err).Str("workflow_id", root.ID).Msg("submit failed")
		}

		persistSnapshot(snapStore, machine, root, mf, sandboxRoot)
	}

	if err := transportClient.Subscribe(ctx, handleDesiredProperty); err != nil {
		return err
	}
	if err := reporter.SendStartupMessage(ctx); err != nil {
		return err
	}

	log.Info().Str("manufacturer", device.Manufacturer).Str("model", device.Model).Msg("du-agent ready")
	return runUntilSignal(ctx, log)
}

// persistSnapshot writes the minimal state needed to resume root across a
// reboot or agent restart (spec.md §3 Persistence), clearing it once the
// workflow has settled back to Idle with nothing pending.
func persistSnapshot(store *snapshot.Store, machine *workflow.Machine, root *workflow.Node, mf *manifest.Manifest, sandboxRoot string) {
	if machine.LastReportedState() == workflow.StateIdle &&
		machine.SystemRebootState() == workflow.RebootNone &&
		machine.AgentRestartState() == workflow.RebootNone {
		store.Clear()
		return
	}
	store.Save(snapshot.Snapshot{
		CurrentStep:       machine.LastReportedState().String(),
		LastResult:        root.Result,
		SystemRebootState: machine.SystemRebootState(),
		AgentRestartState: machine.AgentRestartState(),
		ExpectedUpdateID:  mf.UpdateId,
		WorkflowID:        root.ID,
		WorkFolder:        filepath.Join(sandboxRoot, root.ID),
	})
}

// rebootFunc and agentRestartFunc implement the two suspension triggers of
// spec.md §4.1. This reference core never executes a privileged reboot or
// service-restart command itself: it writes a sentinel file an external
// supervisor is expected to watch, the same indirection spec.md already
// requires of content download and byte-level filesystem mutation.
func rebootFunc(dataDir string) func() error {
	return func() error {
		return writeSentinel(filepath.Join(dataDir, "reboot-requested"))
	}
}

func agentRestartFunc(dataDir string) func() error {
	return func() error {
		return writeSentinel(filepath.Join(dataDir, "restart-requested"))
	}
}

func writeSentinel(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

// runUntilSignal blocks until SIGINT/SIGTERM, mirroring the teacher's
// signal-driven graceful shutdown (the prior cmd/root.go's
// runServerWithShutdown).
func runUntilSignal(ctx context.Context, log zerolog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	case <-ctx.Done():
		return nil
	}
}
