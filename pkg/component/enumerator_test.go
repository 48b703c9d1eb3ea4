package component

import (
	"context"
	"testing"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/manifest"
	"github.com/Azure/iot-hub-device-update-core/pkg/runner"
)

func TestHostOnlyReturnsEmpty(t *testing.T) {
	e := HostOnly{}
	got, err := e.SelectComponents(context.Background(), manifest.CompatibilitySet{"deviceModel": "x"})
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestSubprocessParsesComponents(t *testing.T) {
	fake := runner.FakeCommandRunner{Output: `{"components": [{"id": "c1"}, {"id": "c2"}]}`}
	e := NewSubprocess("/bin/enumerate", fake)

	got, err := e.SelectComponents(context.Background(), manifest.CompatibilitySet{"deviceModel": "x"})
	if err != nil {
		t.Fatalf("SelectComponents: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "c1" || got[1]["id"] != "c2" {
		t.Fatalf("unexpected components: %v", got)
	}
}

func TestSubprocessFailsOnMalformedResponse(t *testing.T) {
	fake := runner.FakeCommandRunner{Output: "not json"}
	e := NewSubprocess("/bin/enumerate", fake)

	_, err := e.SelectComponents(context.Background(), manifest.CompatibilitySet{})
	if errors.CodeOf(err) != errors.CodeComponentSelectionFailed {
		t.Fatalf("expected COMPONENT_SELECTION_FAILED, got %v", err)
	}
}

func TestSubprocessPropagatesProcessError(t *testing.T) {
	fake := runner.FakeCommandRunner{Err: errors.New(errors.CodeInternal, "runner", "boom", nil)}
	e := NewSubprocess("/bin/enumerate", fake)

	_, err := e.SelectComponents(context.Background(), manifest.CompatibilitySet{})
	if errors.CodeOf(err) != errors.CodeComponentSelectionFailed {
		t.Fatalf("expected COMPONENT_SELECTION_FAILED, got %v", err)
	}
}
