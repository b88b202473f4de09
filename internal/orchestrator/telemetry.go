package orchestrator

import (
	"context"
	"time"

	"github.com/nexus-scanner/nexus/pkg/types"
)

// noopTelemetry stands in when no telemetry backend is wired.
type noopTelemetry struct{}

func (noopTelemetry) RecordScan(context.Context, types.ScanStatus, time.Duration) {}
func (noopTelemetry) RecordFinding(context.Context, types.Severity)               {}
func (noopTelemetry) ScanStarted(context.Context)                                 {}
func (noopTelemetry) ScanFinished(context.Context)                                {}
func (noopTelemetry) Close(context.Context) error                                 { return nil }
