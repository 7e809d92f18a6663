package context

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "admin", "user_1")
	role, id := ActorFromContext(ctx)
	if role != "admin" || id != "user_1" {
		t.Fatalf("unexpected actor %q %q", role, id)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	ctx = WithClientID(ctx, "42")
	if got := ClientIDFromContext(ctx); got != "42" {
		t.Fatalf("expected client id 42, got %q", got)
	}
}
