package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsUnknownKeys(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "42"),
		attribute.String("email", "alice@example.com"),
		attribute.String("role", "member"),
	)

	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "email" {
			t.Fatal("email label must not pass the filter")
		}
	}
}
