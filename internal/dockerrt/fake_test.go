package dockerrt

import (
	"context"
	"errors"
	"testing"
)

func TestFakeClientListAndInspect(t *testing.T) {
	f := NewFakeClient()
	f.AddContainer(
		ContainerSummary{ID: "c1", Name: "web-1", Status: "running"},
		ContainerDetail{ID: "c1", Name: "web-1", User: "root"},
		StatsSnapshot{MemoryUsage: 100, MemoryLimit: 200},
		ProcessList{Processes: []Process{{PID: "1", Command: "nginx"}}},
	)

	ctx := context.Background()
	list, err := f.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != "c1" {
		t.Fatalf("List() = %+v, %v", list, err)
	}

	detail, err := f.Inspect(ctx, "c1")
	if err != nil || detail.User != "root" {
		t.Fatalf("Inspect() = %+v, %v", detail, err)
	}

	stats, err := f.Stats(ctx, "c1")
	if err != nil || stats.MemoryUsage != 100 {
		t.Fatalf("Stats() = %+v, %v", stats, err)
	}

	procs, err := f.Processes(ctx, "c1")
	if err != nil || len(procs.Processes) != 1 {
		t.Fatalf("Processes() = %+v, %v", procs, err)
	}
}

func TestFakeClientMissingContainer(t *testing.T) {
	f := NewFakeClient()
	f.AddContainer(ContainerSummary{ID: "c1"}, ContainerDetail{ID: "c1"}, StatsSnapshot{}, ProcessList{})
	f.SetMissing("c1")

	_, err := f.Inspect(context.Background(), "c1")
	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) || rtErr.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestFakeClientUnknownContainer(t *testing.T) {
	f := NewFakeClient()
	_, err := f.Stats(context.Background(), "nope")
	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) || rtErr.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound for unregistered id, got %v", err)
	}
}

func TestFakeClientClose(t *testing.T) {
	f := NewFakeClient()
	if f.Closed() {
		t.Fatal("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.Closed() {
		t.Fatal("should be closed after Close()")
	}
}
