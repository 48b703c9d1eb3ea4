// Package cmd implements the du-agent CLI surface of spec.md §6: a single
// root command that either performs a one-shot extension registration or
// health check and exits, or starts the long-running orchestration driver
// loop. Grounded on the teacher's cobra command tree (cmd.go: a package-
// level rootCmd, flags bound in init, Execute() as the sole entry point).
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

var (
	registerExtensionPath string
	extensionType         string
	extensionID           string
	healthCheck           bool
	logLevel              int
	protocolArgs          string
	connectionStringFile  string
	configPath            string
	diagnosticsConfigPath string
	dataDir               string
	rootKeyPath           string
	printConfig           bool
)

var rootCmd = &cobra.Command{
	Use:   "du-agent",
	Short: "Device update orchestration agent",
	Long: "du-agent receives signed deployment descriptors over the device's\n" +
		"property channel, drives the device through download/install/apply,\n" +
		"and reports progress back to the control plane.",
	RunE: runRoot,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&registerExtensionPath, "register-extension", "", "path to an extension module to register")
	flags.StringVar(&extensionType, "extension-type", "", "contentDownloader|updateContentHandler|componentEnumerator|contentDownloadHandler")
	flags.StringVar(&extensionID, "extension-id", "", "vendor/name:major (required for updateContentHandler)")
	flags.BoolVar(&healthCheck, "health-check", false, "check configuration and required registrations, then exit")
	flags.IntVarP(&logLevel, "log-level", "l", 1, "0=debug, 1=info, 2=warn, 3=error")
	flags.StringVarP(&protocolArgs, "iothub-protocol-args", "e", "", "protocol arguments opaque to the core, forwarded to the transport")
	flags.StringVarP(&connectionStringFile, "connection-string-file", "c", "", "path to a file holding the device connection string, opaque to the core")
	flags.StringVar(&configPath, "config", "/etc/adu/du-config.json", "path to du-config.json (schema 1.1)")
	flags.StringVar(&diagnosticsConfigPath, "diagnostics-config", "/etc/adu/du-diagnostics-config.json", "path to du-diagnostics-config.json")
	flags.StringVar(&dataDir, "data-dir", "/var/lib/adu", "data directory root (downloads/, extensions/, snapshot)")
	flags.StringVar(&rootKeyPath, "root-key", "/etc/adu/root-public-key.pem", "PEM-encoded public key the descriptor signature chain must terminate at")
	flags.BoolVar(&printConfig, "print-config", false, "print the effective configuration as YAML and exit")
}

// Execute runs the du-agent root command and maps a returned error to a
// classifiable, non-zero process exit code (spec.md §6: "non-zero with a
// classifiable error code on failure").
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a structured error's Code to a stable process exit code:
// each kind listed below gets its own code from 2 to 8, and every other kind
// (PhaseFailed, Internal) as well as a non-structured error exits with 1.
func exitCodeFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeBadFormat:
		return 2
	case apperrors.CodeSignatureInvalid:
		return 3
	case apperrors.CodeManifestHashMismatch:
		return 4
	case apperrors.CodeComponentSelectionFailed:
		return 5
	case apperrors.CodeHandlerLoadFailed:
		return 6
	case apperrors.CodeUnexpectedState:
		return 7
	case apperrors.CodeCancelled:
		return 8
	default:
		return 1
	}
}
