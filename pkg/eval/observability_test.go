package eval

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cairnlang/cairn/pkg/ast"
	"github.com/cairnlang/cairn/pkg/telemetry"
)

func TestRun_PublishesEvents(t *testing.T) {
	events := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 100})
	res, err := runWith(t, Options{Events: events},
		resource("vm", "b", prop("size", ast.Ref("a", "size"))),
		resource("vm", "a", prop("size", num(1))),
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var got []string
	for _, e := range events.Events(telemetry.FilterByRunID(res.RunID)) {
		got = append(got, e.Type+" "+e.Entity)
	}
	want := []string{
		"run.started ",
		"entity.blocked b",
		"entity.evaluated a",
		"entity.evaluated b",
		"run.completed ",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Event stream mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_PublishesCycle(t *testing.T) {
	events := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 100})
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "cairn"})
	_, err := runWith(t, Options{Events: events, Metrics: metrics},
		resource("vm", "a", prop("x", ast.Ref("b", "x"))),
		resource("vm", "b", prop("x", ast.Ref("a", "x"))),
	)
	if err == nil {
		t.Fatal("Expected a cycle error")
	}

	cycles := events.Events(telemetry.FilterByType(telemetry.EventTypeCycleDetected))
	if len(cycles) != 1 {
		t.Fatalf("Expected one cycle event, got %d", len(cycles))
	}
	if diff := cmp.Diff([]string{"b", "a", "b"}, cycles[0].Data["cycle"]); diff != "" {
		t.Errorf("Cycle mismatch (-want +got):\n%s", diff)
	}
	if len(events.Events(telemetry.FilterByType(telemetry.EventTypeRunFailed))) != 1 {
		t.Error("Expected a run.failed event")
	}

	n, err := testutil.GatherAndCount(metrics.Registry(), "cairn_cycles_detected_total", "cairn_errors_total")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected cycle and error series, got %d", n)
	}
}
