// Package transport declares the external property-channel collaborator
// (spec.md §1 Non-goals / §6 Property channel). The core never speaks MQTT
// or AMQP itself: it hands JSON values to a PropertyClient and expects
// desired-property deliveries to arrive through a callback. Grounded on the
// dependency-injection style of pkg/mcp/application/services/core/
// server_config.go (interfaces accepted, concrete clients wired at cmd/
// startup time) — no IoT Hub device SDK is wired here since the example
// corpus carries none (see DESIGN.md).
package transport

import "context"

// PropertyClient is the device-to-cloud half of the property channel. The
// two reported properties named in spec.md §6 ("agent" status document,
// and the echoed acknowledgement of "service") are sent through the same
// client with different values.
type PropertyClient interface {
	// ReportAgentProperty sends the current nested status document
	// (spec.md §4.6) as the reported value of the "agent" property.
	ReportAgentProperty(ctx context.Context, value interface{}) error

	// AcknowledgeServiceProperty sends a version-acknowledgement envelope
	// for the desired "service" property (spec.md §6: "{status, version,
	// value: <echoed envelope with signature/fileUrls removed>}").
	AcknowledgeServiceProperty(ctx context.Context, version int, status int, value interface{}) error
}

// DesiredPropertyHandler is invoked by a PropertyClient implementation
// whenever a new "service" desired-property value is delivered, including
// on redelivery after a reconnect. raw is the property's JSON text and
// version is its property-document version.
type DesiredPropertyHandler func(ctx context.Context, raw string, version int)

// Subscriber is implemented by a PropertyClient capable of delivering
// desired-property updates; separated from PropertyClient so a
// report-only fake need not implement it.
type Subscriber interface {
	Subscribe(ctx context.Context, handler DesiredPropertyHandler) error
}
