package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "getanswer", "test", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Tracer("x") == nil {
		t.Fatal("nil tracer")
	}
}

func TestInitEnabled(t *testing.T) {
	// The exporter connects lazily, so no collector is needed to build it.
	shutdown, err := Init(context.Background(), "127.0.0.1:4318", "getanswer", "test", true)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
