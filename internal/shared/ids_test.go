package shared

import (
	"context"
	"testing"
)

func TestTaskIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TaskID(ctx); got != "" {
		t.Fatalf("TaskID on empty context = %q", got)
	}
	ctx = WithTaskID(ctx, "tsk-1")
	if got := TaskID(ctx); got != "tsk-1" {
		t.Fatalf("TaskID = %q", got)
	}
}

func TestInvocationTokenDefaults(t *testing.T) {
	ctx := context.Background()
	if got := InvocationToken(ctx); got != "-" {
		t.Fatalf("InvocationToken on empty context = %q", got)
	}
	ctx = WithInvocationToken(ctx, "abc")
	if got := InvocationToken(ctx); got != "abc" {
		t.Fatalf("InvocationToken = %q", got)
	}
}

func TestNewInvocationTokenIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewInvocationToken()
		if tok == "" || seen[tok] {
			t.Fatalf("token %q repeated or empty", tok)
		}
		seen[tok] = true
	}
}
