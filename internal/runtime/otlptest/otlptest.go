// Package otlptest builds small, deterministic OTLP batches for tests.
package otlptest

import (
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

// Epoch is the timestamp stamped on every generated item.
var Epoch = pcommon.NewTimestampFromTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

// Resource describes one resource group of a generated batch.
type Resource struct {
	Service      string
	Scope        string
	ScopeVersion string
	Items        int
}

func putResource(res pcommon.Resource, r Resource) {
	if r.Service != "" {
		res.Attributes().PutStr("service.name", r.Service)
	}
}

func putScope(scope pcommon.InstrumentationScope, r Resource) {
	scope.SetName(r.Scope)
	scope.SetVersion(r.ScopeVersion)
}

// Traces returns one resource group per entry, each with a single scope.
func Traces(resources ...Resource) ptrace.Traces {
	td := ptrace.NewTraces()
	for ri, r := range resources {
		rs := td.ResourceSpans().AppendEmpty()
		putResource(rs.Resource(), r)
		ss := rs.ScopeSpans().AppendEmpty()
		putScope(ss.Scope(), r)
		for i := 0; i < r.Items; i++ {
			span := ss.Spans().AppendEmpty()
			span.SetName("span")
			span.SetTraceID(pcommon.TraceID([16]byte{1, byte(ri), byte(i)}))
			span.SetSpanID(pcommon.SpanID([8]byte{2, byte(ri), byte(i)}))
			span.SetKind(ptrace.SpanKindServer)
			span.SetStartTimestamp(Epoch)
			span.SetEndTimestamp(Epoch + 1000)
		}
	}
	return td
}

// Metrics returns one resource group per entry, each item a single-point gauge.
func Metrics(resources ...Resource) pmetric.Metrics {
	md := pmetric.NewMetrics()
	for _, r := range resources {
		rm := md.ResourceMetrics().AppendEmpty()
		putResource(rm.Resource(), r)
		sm := rm.ScopeMetrics().AppendEmpty()
		putScope(sm.Scope(), r)
		for i := 0; i < r.Items; i++ {
			m := sm.Metrics().AppendEmpty()
			m.SetName("gauge")
			dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
			dp.SetTimestamp(Epoch)
			dp.SetIntValue(int64(i + 1))
		}
	}
	return md
}

// Logs returns one resource group per entry, each item a string-bodied record.
func Logs(resources ...Resource) plog.Logs {
	ld := plog.NewLogs()
	for _, r := range resources {
		rl := ld.ResourceLogs().AppendEmpty()
		putResource(rl.Resource(), r)
		sl := rl.ScopeLogs().AppendEmpty()
		putScope(sl.Scope(), r)
		for i := 0; i < r.Items; i++ {
			lr := sl.LogRecords().AppendEmpty()
			lr.SetTimestamp(Epoch)
			lr.SetSeverityNumber(plog.SeverityNumberInfo)
			lr.Body().SetStr("hello")
		}
	}
	return ld
}

// Svc is the single-resource, single-scope fixture used throughout the tests.
func Svc(items int) Resource {
	return Resource{Service: "svc", Scope: "v1", ScopeVersion: "1.0.0", Items: items}
}
