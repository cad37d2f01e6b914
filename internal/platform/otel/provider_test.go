package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/eventcore/internal/platform/otel"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("EVENTCORE_OTEL_ENDPOINT", "")

	shutdown, err := otel.Setup(context.Background(), "dispatch-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("EVENTCORE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("EVENTCORE_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "dispatch-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupRejectsMalformedEnabledFlag(t *testing.T) {
	t.Setenv("EVENTCORE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("EVENTCORE_OTEL_ENABLED", "maybe")

	if _, err := otel.Setup(context.Background(), "dispatch-test"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export happens.
	t.Setenv("EVENTCORE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("EVENTCORE_OTEL_ENABLED", "true")

	shutdown, err := otel.Setup(context.Background(), "dispatch-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
