package obs

import "go.opentelemetry.io/otel/metric"

// Metrics holds the bridge's metric instruments for the approval protocol.
type Metrics struct {
	ApprovalsGranted     metric.Int64Counter
	ApprovalsDenied      metric.Int64Counter
	ApprovalsTimedOut    metric.Int64Counter
	ApprovalsAutoApproved metric.Int64Counter
	ApprovalWaitLatency  metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ApprovalsGranted, err = meter.Int64Counter("bridge.approvals.granted",
		metric.WithDescription("Tool approvals granted by a device"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalsDenied, err = meter.Int64Counter("bridge.approvals.denied",
		metric.WithDescription("Tool approvals denied by a device"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalsTimedOut, err = meter.Int64Counter("bridge.approvals.timed_out",
		metric.WithDescription("Tool approvals that timed out waiting for a device"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalsAutoApproved, err = meter.Int64Counter("bridge.approvals.auto_approved",
		metric.WithDescription("Tool approvals granted by local capability policy without a device round trip"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalWaitLatency, err = meter.Float64Histogram("bridge.approvals.wait_latency",
		metric.WithDescription("Time spent waiting for a device approval response"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
