// Package telemetry provides the observability stack of cairn: structured
// logging (zerolog), tracing (OpenTelemetry), metrics (Prometheus) and an
// in-process event stream.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	in := eval.New(eval.Options{
//	    Logger:  tel.Logger.Zerolog(),
//	    Tracer:  tel.Tracer,
//	    Metrics: tel.Metrics,
//	    Events:  tel.Events,
//	})
//
// # Tracing
//
// The interpreter opens a "run" span per evaluation with "import" and
// "finalize" children. Policy checks run under a "policy" span. Exporters
// are "otlp" (gRPC), "stdout" and "none". A disabled tracer is a no-op
// provider, so spans cost nothing.
//
// # Metrics
//
// Metrics live on a private registry, never the global default:
//
//   - cairn_runs_started_total
//   - cairn_runs_completed_total{status}
//   - cairn_run_duration_seconds{status}
//   - cairn_entities_declared_total{kind}
//   - cairn_entity_passes_total{outcome}
//   - cairn_pending_references_total{provenance}
//   - cairn_reevaluations_total
//   - cairn_cycles_detected_total
//   - cairn_errors_total{kind}
//   - cairn_blocked_entities
//   - cairn_policy_violations_total{severity}
//
// Every recording method accepts a nil receiver.
//
// # Events
//
// EventPublisher delivers events synchronously, in publish order, and keeps
// the last BufferSize of them so the CLI can store a run's stream after it
// finishes:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
