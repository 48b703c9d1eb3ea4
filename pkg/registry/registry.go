// Package registry implements the handler extension registry of spec.md
// §4.3: a process-wide map from update-type string to a dynamically loaded
// handler module with a fixed seven-entry capability vtable. Grounded on
// the teacher's tool/type-safe registry pattern
// (pkg/mcp/application/orchestration/registry: a mutex-guarded map
// populated by Register, looked up by string key), generalized here from
// MCP tools to update-type content handlers. Dynamic loading uses the Go
// standard library's plugin package as the systems analogue of the
// original's shared-object loading (spec.md §9: "a hash-pinned loader").
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
	"github.com/Azure/iot-hub-device-update-core/pkg/result"
	"github.com/Azure/iot-hub-device-update-core/pkg/workflow"
)

// Kind names one of the four extension registration categories of
// spec.md §4.3/§6.
type Kind string

const (
	KindContentDownloader     Kind = "contentDownloader"
	KindUpdateContentHandler  Kind = "updateContentHandler"
	KindComponentEnumerator   Kind = "componentEnumerator"
	KindContentDownloadHandler Kind = "contentDownloadHandler"
)

// ContentHandler is the seven-entry capability vtable every handler module
// must implement (spec.md §4.3). Backup and Restore are optional in the
// source material; BaseHandler supplies no-op defaults so embedding
// handlers need not implement them.
type ContentHandler interface {
	Download(ctx context.Context, node *workflow.Node) result.Result
	Install(ctx context.Context, node *workflow.Node) result.Result
	Apply(ctx context.Context, node *workflow.Node) result.Result
	Cancel(ctx context.Context, node *workflow.Node) result.Result
	IsInstalled(ctx context.Context, node *workflow.Node) result.Result
	Backup(ctx context.Context, node *workflow.Node) result.Result
	Restore(ctx context.Context, node *workflow.Node) result.Result
}

// BaseHandler supplies the optional capabilities' no-op default, per
// spec.md §4.3 ("backup/restore... optional; no-op default").
type BaseHandler struct{}

func (BaseHandler) Backup(ctx context.Context, node *workflow.Node) result.Result  { return result.Success() }
func (BaseHandler) Restore(ctx context.Context, node *workflow.Node) result.Result { return result.Success() }

// Registration is the on-disk extension registration record, per spec.md §6:
// {fileName, sizeInBytes, hashes: {"sha256": base64}, handlerId?}.
type Registration struct {
	FileName    string            `json:"fileName"`
	SizeInBytes int64             `json:"sizeInBytes"`
	Hashes      map[string]string `json:"hashes"`
	HandlerID   string            `json:"handlerId,omitempty"`
}

// ModuleLoader loads a handler module from its on-disk path. Abstracted so
// tests can substitute an in-memory loader instead of a real Go plugin.
type ModuleLoader interface {
	Load(path string) (ContentHandler, error)
}

// Registry is the process-wide handler extension registry.
type Registry struct {
	dataDir string
	loader  ModuleLoader

	mu    sync.Mutex
	cache map[string]ContentHandler
}

// NewRegistry roots a Registry at dataDir (spec.md §6's <var>/lib/adu/
// extensions tree) using loader to materialize modules on first lookup.
func NewRegistry(dataDir string, loader ModuleLoader) *Registry {
	return &Registry{dataDir: dataDir, loader: loader, cache: map[string]ContentHandler{}}
}

func sanitizeExtensionID(id string) string {
	r := strings.NewReplacer("/", "_", ":", "_")
	return r.Replace(id)
}

func (r *Registry) sourcesDir() string {
	return filepath.Join(r.dataDir, "extensions", "sources")
}

func (r *Registry) registrationPath(kind Kind, extensionID string) (string, error) {
	base := filepath.Join(r.dataDir, "extensions")
	switch kind {
	case KindContentDownloader:
		return filepath.Join(base, "content_downloader", "extension.json"), nil
	case KindContentDownloadHandler:
		return filepath.Join(base, "content_download_handler", "extension.json"), nil
	case KindComponentEnumerator:
		return filepath.Join(base, "component_enumerator", "extension.json"), nil
	case KindUpdateContentHandler:
		if extensionID == "" {
			return "", errors.New(errors.CodeBadFormat, "registry", "updateContentHandler registration requires --extension-id", nil)
		}
		return filepath.Join(base, "update_content_handlers", sanitizeExtensionID(extensionID), "content_handler.json"), nil
	default:
		return "", errors.New(errors.CodeBadFormat, "registry", "unknown extension kind "+string(kind), nil)
	}
}

func hashFile(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), n, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RegisterExtension implements the `--register-extension` CLI record
// described in spec.md §4.3/§6: it copies modulePath into the extensions
// sources directory and writes a deterministic JSON registration record,
// so running the command twice with the same path produces the same
// on-disk record (spec.md §8 property 4).
func (r *Registry) RegisterExtension(kind Kind, modulePath string, extensionID string) (*Registration, error) {
	sum, size, err := hashFile(modulePath)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "failed to read extension module", err)
	}

	fileName := filepath.Base(modulePath)
	src, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "failed to read extension module", err)
	}
	dest := filepath.Join(r.sourcesDir(), fileName)
	if err := atomicWriteFile(dest, src, 0o755); err != nil {
		return nil, errors.New(errors.CodeInternal, "registry", "failed to stage extension module", err)
	}

	reg := &Registration{
		FileName:    fileName,
		SizeInBytes: size,
		Hashes:      map[string]string{"sha256": sum},
	}
	if kind == KindUpdateContentHandler {
		reg.HandlerID = extensionID
	}

	path, err := r.registrationPath(kind, extensionID)
	if err != nil {
		return nil, err
	}
	buf, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "registry", "failed to marshal registration record", err)
	}
	if err := atomicWriteFile(path, buf, 0o644); err != nil {
		return nil, errors.New(errors.CodeInternal, "registry", "failed to write registration record", err)
	}

	logging.Component("registry").Info().Str("kind", string(kind)).Str("extension_id", extensionID).
		Str("path", path).Msg("extension registered")

	r.mu.Lock()
	delete(r.cache, extensionID)
	r.mu.Unlock()

	return reg, nil
}

func (r *Registry) readRegistration(kind Kind, extensionID string) (*Registration, error) {
	path, err := r.registrationPath(kind, extensionID)
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "no registration found for "+string(kind), err)
	}
	var reg Registration
	if err := json.Unmarshal(buf, &reg); err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "malformed registration record", err)
	}
	return &reg, nil
}

// verifyAndResolvePath checks the registration's recorded hash against the
// currently staged module file and returns its path.
func (r *Registry) verifyAndResolvePath(reg *Registration) (string, error) {
	path := filepath.Join(r.sourcesDir(), reg.FileName)
	sum, _, err := hashFile(path)
	if err != nil {
		return "", errors.New(errors.CodeHandlerLoadFailed, "registry", "registered extension module missing", err)
	}
	if sum != reg.Hashes["sha256"] {
		return "", errors.New(errors.CodeHandlerLoadFailed, "registry", "registered extension module hash mismatch", nil)
	}
	return path, nil
}

// LookupHandler resolves updateType to a loaded ContentHandler, loading and
// caching the module on first use (spec.md §4.3).
func (r *Registry) LookupHandler(updateType string) (ContentHandler, error) {
	r.mu.Lock()
	if h, ok := r.cache[updateType]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	reg, err := r.readRegistration(KindUpdateContentHandler, updateType)
	if err != nil {
		return nil, err
	}
	path, err := r.verifyAndResolvePath(reg)
	if err != nil {
		return nil, err
	}
	handler, err := r.loader.Load(path)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "failed to load extension module", err)
	}

	r.mu.Lock()
	r.cache[updateType] = handler
	r.mu.Unlock()
	return handler, nil
}

// ComponentEnumeratorPath returns the staged binary path for the registered
// componentEnumerator extension, or ok=false if none is registered
// (spec.md §4.4: "zero or one").
func (r *Registry) ComponentEnumeratorPath() (path string, ok bool, err error) {
	reg, err := r.readRegistration(KindComponentEnumerator, "")
	if err != nil {
		return "", false, nil
	}
	p, err := r.verifyAndResolvePath(reg)
	if err != nil {
		return "", false, err
	}
	return p, true, nil
}

// ContentDownloaderPath returns the staged binary path for the registered
// contentDownloader extension (spec.md §4.3: "exactly one").
func (r *Registry) ContentDownloaderPath() (string, error) {
	reg, err := r.readRegistration(KindContentDownloader, "")
	if err != nil {
		return "", err
	}
	return r.verifyAndResolvePath(reg)
}

// HealthCheck implements the `--health-check` CLI flag (spec.md §6): it
// reports healthy only if a content downloader is registered and its staged
// module still matches the recorded sha256. The module is not loaded.
func (r *Registry) HealthCheck() error {
	_, err := r.ContentDownloaderPath()
	return err
}
