// Package telemetry provides observability instrumentation for manifest runs.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and lifecycle events into a single
// bundle that the command line builds once and hands to the manifest layer
// and the local catalog engine.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine").Zerolog()
//	logger.Info().Str("resource", "Package[nginx]").Msg("Applying resource")
//
// The manifest and engine packages work with plain zerolog loggers.
//
// # Metrics
//
// A nil *Metrics, or one created with Enabled=false, is a valid no-op
// collector. Metrics exposed (with the default namespace):
//
//   - froyo_manifest_executions_total{class,status}
//   - froyo_manifest_execution_duration_seconds{class}
//   - froyo_manifest_recipes_evaluated_total{class,recipe,status}
//   - froyo_manifest_resources{class,kind}
//   - froyo_manifest_resources_applied_total{type,status}
//   - froyo_manifest_resource_apply_duration_seconds{type}
//   - froyo_manifest_policy_violations_total{policy,severity}
//   - froyo_manifest_errors_total{kind}
//
// They are served over HTTP only when MetricsConfig.ListenAddress is set.
//
// # Events
//
// The local engine publishes one event per resource outcome. Subscribers
// receive them in publish order:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Printf("%s %s\n", e.Type, e.Resource)
//	}, telemetry.FilterByType(telemetry.EventTypeResourceFailed))
//
// # Tracing
//
// Tracing is disabled by default. Supported exporters are "otlp"
// (OTLP/gRPC), "stdout" and "none". TraceID returns the trace of the span in
// a context; manifest runs store it with their history record.
package telemetry
