package steps

import "github.com/Azure/iot-hub-device-update-core/pkg/manifest"

// parseDetachedManifest parses a reference step's fetched child manifest
// the same way the top-level update_manifest is parsed. Detached manifests
// carry no signature of their own, and the fetched bytes are not checked
// against the parent manifest's hash entry for the file.
func parseDetachedManifest(raw string) (*manifest.Manifest, error) {
	return manifest.ParseManifest(raw)
}
