package session

import (
	"context"
	"testing"
)

func TestRunAndFromContext(t *testing.T) {
	t.Run("observes session id inside Run", func(t *testing.T) {
		ctx := context.Background()
		var observed string
		Run(ctx, "sess-1", func(ctx context.Context) {
			observed = FromContext(ctx)
		})
		if observed != "sess-1" {
			t.Errorf("expected sess-1, got %q", observed)
		}
	})

	t.Run("empty session id behaves as no session", func(t *testing.T) {
		if got := FromContext(context.Background()); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})

	t.Run("nested scopes shadow and restore on exit", func(t *testing.T) {
		ctx := WithSession(context.Background(), "outer")
		var innerObserved string
		Run(ctx, "inner", func(inner context.Context) {
			innerObserved = FromContext(inner)
		})
		if innerObserved != "inner" {
			t.Errorf("expected inner, got %q", innerObserved)
		}
		if outer := FromContext(ctx); outer != "outer" {
			t.Errorf("expected outer context to be restored to outer, got %q", outer)
		}
	})
}
