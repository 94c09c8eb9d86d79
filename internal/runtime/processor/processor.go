// Package processor validates decoded batches and summarizes them for
// observability.
package processor

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

// Scope identifies an instrumentation scope.
type Scope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

func (s Scope) String() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + " v" + s.Version
}

// ResourceSummary describes one resource group of a batch.
type ResourceSummary struct {
	// Attributes holds the resource attributes as k=v pairs in wire order.
	Attributes []string `json:"attributes"`
	Scopes     int      `json:"scopes"`
	Items      int      `json:"items"`
	// FirstScope is the first scope of the group; HasScope is false when the
	// group has none.
	FirstScope Scope `json:"first_scope"`
	HasScope   bool  `json:"has_scope"`
}

// Summary counts the groups and items of one accepted batch.
type Summary struct {
	Kind           signal.Kind       `json:"kind"`
	ResourceGroups int               `json:"resource_groups"`
	ScopeGroups    int               `json:"scope_groups"`
	Items          int               `json:"items"`
	Resources      []ResourceSummary `json:"resources"`
}

// Recorder receives the summary of every accepted batch.
type Recorder func(ctx context.Context, summary Summary)

// Processor enforces the single structural rule of an export request: at
// least one resource group. It never mutates the batch.
type Processor[T any] struct {
	kind      signal.Kind
	summarize func(T) Summary
	record    Recorder
}

// NewTraces, NewMetrics and NewLogs build the per-kind processors. record may
// be nil.
func NewTraces(record Recorder) *Processor[ptrace.Traces] {
	return &Processor[ptrace.Traces]{kind: signal.Traces, summarize: SummarizeTraces, record: record}
}

func NewMetrics(record Recorder) *Processor[pmetric.Metrics] {
	return &Processor[pmetric.Metrics]{kind: signal.Metrics, summarize: SummarizeMetrics, record: record}
}

func NewLogs(record Recorder) *Processor[plog.Logs] {
	return &Processor[plog.Logs]{kind: signal.Logs, summarize: SummarizeLogs, record: record}
}

// Kind returns the signal kind handled by p.
func (p *Processor[T]) Kind() signal.Kind { return p.kind }

// Process validates batch and returns its summary.
func (p *Processor[T]) Process(ctx context.Context, batch T) (Summary, error) {
	summary := p.summarize(batch)
	if summary.ResourceGroups == 0 {
		return Summary{}, errspkg.InvalidRequest(fmt.Sprintf("no resource %s provided", p.kind.ItemNoun()))
	}
	if p.record != nil {
		p.record(ctx, summary)
	}
	return summary, nil
}

type resourceView struct {
	resource pcommon.Resource
	scopes   int
	scopeAt  func(j int) (pcommon.InstrumentationScope, int)
}

func summarize(kind signal.Kind, n int, at func(i int) resourceView) Summary {
	s := Summary{Kind: kind, ResourceGroups: n, Resources: make([]ResourceSummary, 0, n)}
	for i := 0; i < n; i++ {
		view := at(i)
		rs := ResourceSummary{Attributes: formatAttributes(view.resource.Attributes()), Scopes: view.scopes}
		for j := 0; j < view.scopes; j++ {
			scope, items := view.scopeAt(j)
			if j == 0 {
				rs.FirstScope = Scope{Name: scope.Name(), Version: scope.Version()}
				rs.HasScope = true
			}
			rs.Items += items
		}
		s.ScopeGroups += rs.Scopes
		s.Items += rs.Items
		s.Resources = append(s.Resources, rs)
	}
	return s
}

// SummarizeTraces counts resource spans, scope spans and spans.
func SummarizeTraces(td ptrace.Traces) Summary {
	rss := td.ResourceSpans()
	return summarize(signal.Traces, rss.Len(), func(i int) resourceView {
		rs := rss.At(i)
		scopes := rs.ScopeSpans()
		return resourceView{
			resource: rs.Resource(),
			scopes:   scopes.Len(),
			scopeAt: func(j int) (pcommon.InstrumentationScope, int) {
				ss := scopes.At(j)
				return ss.Scope(), ss.Spans().Len()
			},
		}
	})
}

// SummarizeMetrics counts resource metrics, scope metrics and metrics.
func SummarizeMetrics(md pmetric.Metrics) Summary {
	rms := md.ResourceMetrics()
	return summarize(signal.Metrics, rms.Len(), func(i int) resourceView {
		rm := rms.At(i)
		scopes := rm.ScopeMetrics()
		return resourceView{
			resource: rm.Resource(),
			scopes:   scopes.Len(),
			scopeAt: func(j int) (pcommon.InstrumentationScope, int) {
				sm := scopes.At(j)
				return sm.Scope(), sm.Metrics().Len()
			},
		}
	})
}

// SummarizeLogs counts resource logs, scope logs and log records.
func SummarizeLogs(ld plog.Logs) Summary {
	rls := ld.ResourceLogs()
	return summarize(signal.Logs, rls.Len(), func(i int) resourceView {
		rl := rls.At(i)
		scopes := rl.ScopeLogs()
		return resourceView{
			resource: rl.Resource(),
			scopes:   scopes.Len(),
			scopeAt: func(j int) (pcommon.InstrumentationScope, int) {
				sl := scopes.At(j)
				return sl.Scope(), sl.LogRecords().Len()
			},
		}
	})
}

func formatAttributes(attrs pcommon.Map) []string {
	out := make([]string, 0, attrs.Len())
	attrs.Range(func(k string, v pcommon.Value) bool {
		out = append(out, k+"="+v.AsString())
		return true
	})
	return out
}

// AttributeString joins the resource attributes with ", ".
func (r ResourceSummary) AttributeString() string {
	return strings.Join(r.Attributes, ", ")
}
