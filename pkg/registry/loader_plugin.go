package registry

import (
	"plugin"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// PluginLoader loads a ContentHandler from a Go plugin (.so) module, the
// systems analogue of the original's shared-object handler loading
// (spec.md §9: "an explicit FFI vtable... a hash-pinned loader"). The
// module must export CreateUpdateContentHandlerExtension(logLevel int)
// ContentHandler, matching the entry-point name spec.md §4.3 names.
type PluginLoader struct{}

// EntryPoint is the exported symbol name every handler module must provide.
const EntryPoint = "CreateUpdateContentHandlerExtension"

func (PluginLoader) Load(path string) (ContentHandler, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "failed to open extension module", err)
	}
	sym, err := p.Lookup(EntryPoint)
	if err != nil {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", "extension missing "+EntryPoint+" entry point", err)
	}
	create, ok := sym.(func(logLevel int) ContentHandler)
	if !ok {
		return nil, errors.New(errors.CodeHandlerLoadFailed, "registry", EntryPoint+" has unexpected signature", nil)
	}
	return create(1), nil
}
