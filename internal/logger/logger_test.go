package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", "test"} {
		l, err := NewLogger(env, "warn")
		if err != nil {
			t.Fatalf("env %s: %v", env, err)
		}
		if l == nil {
			t.Fatalf("env %s: nil logger", env)
		}
	}
	if _, err := NewLogger("staging"); err == nil {
		t.Fatal("expected error for unknown env")
	}
	if _, err := NewLogger("prod", "loud"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestForJob(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ForJob(zap.New(core), "job-1", "evaluate").Info("started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields[FieldJobID] != "job-1" || fields[FieldOperation] != "evaluate" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestStartJob(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx, l := StartJob(context.Background(), zap.New(core), "job-2", "extract")
	if FromContext(ctx) != l {
		t.Fatal("job logger not carried by context")
	}
	FromContext(ctx).Debug("chunk embedded")

	entries := logs.All()
	if len(entries) != 1 || entries[0].ContextMap()[FieldJobID] != "job-2" {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestStartJob_FallsBackToContextLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	parent := ContextWithLogger(context.Background(), zap.New(core))

	_, l := StartJob(parent, nil, "job-3", "analyze")
	l.Info("started")

	if logs.Len() != 1 || logs.All()[0].ContextMap()[FieldOperation] != "analyze" {
		t.Fatalf("expected the context logger to receive the job line, got %v", logs.All())
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger")
	}
	l := zap.NewExample()
	if FromContext(ContextWithLogger(context.Background(), l)) != l {
		t.Fatal("logger not carried by context")
	}
}
