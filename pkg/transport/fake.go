package transport

import (
	"context"
	"sync"
)

// Ack records one AcknowledgeServiceProperty call.
type Ack struct {
	Version int
	Status  int
	Value   interface{}
}

// Fake is an in-memory PropertyClient/Subscriber used by tests, grounded on
// the same in-memory double style used throughout the component/registry
// test doubles in this repo.
type Fake struct {
	mu       sync.Mutex
	Reported []interface{}
	Acks     []Ack
	handler  DesiredPropertyHandler
}

// NewFake returns a ready-to-use in-memory transport.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) ReportAgentProperty(ctx context.Context, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reported = append(f.Reported, value)
	return nil
}

func (f *Fake) AcknowledgeServiceProperty(ctx context.Context, version int, status int, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Acks = append(f.Acks, Ack{Version: version, Status: status, Value: value})
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, handler DesiredPropertyHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

// Deliver simulates the control plane (re)delivering a "service" desired
// property, including a redelivery after reconnect with the same version.
func (f *Fake) Deliver(ctx context.Context, raw string, version int) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ctx, raw, version)
	}
}

// LastReported returns the most recently reported agent-property value, or
// nil if none has been sent yet.
func (f *Fake) LastReported() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Reported) == 0 {
		return nil
	}
	return f.Reported[len(f.Reported)-1]
}
