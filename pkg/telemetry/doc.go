// Package telemetry provides observability instrumentation for cfgport.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) into one bundle that travels in a
// context.Context. Instrumented code never needs the bundle to be present:
// every helper degrades to a no-op when the context carries no telemetry.
//
// # Usage
//
// Initialize telemetry at application startup:
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
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("importer")
//	logger.WithRunID(runID).WithEntity("script", id).Info("entity applied")
//
// A *Logger satisfies engine.Printer, so it can receive user-facing warnings.
//
// # Operations, runs and entities
//
//	ic := telemetry.StartOperation(ctx, "export", telemetry.AttrRealm.String(realm))
//	defer func() { ic.End(err) }()
//
//	ctx = telemetry.WithRunContext(ctx, runID)
//	defer telemetry.EndRunContext(ctx, status, err)
//
//	ectx := telemetry.WithEntityContext(ctx, "import", "script", id)
//	telemetry.EndEntityContext(ectx, "import", "script", "created", "", nil)
//
// # Metrics
//
// Metrics are registered on a private registry and exposed through Handler
// or StartMetricsServer. Counters cover operations, exported and imported
// entities by type and outcome, import conflicts, orphan scans and requests
// sent to the target.
package telemetry
