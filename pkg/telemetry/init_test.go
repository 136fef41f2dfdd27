package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := Init(context.Background(), "eviid-test", "dev", "")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := Tracer("eviid/test").Start(context.Background(), "summarize")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
