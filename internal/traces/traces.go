// Package traces matches OTLP trace spans against the function graph,
// reporting which functions were observed at runtime.
package traces

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/codetreehq/codetree/internal/store"
)

// OTLPExport represents the top-level structure of an OTLP JSON export.
type OTLPExport struct {
	ResourceSpans []ResourceSpan `json:"resourceSpans"`
}

// ResourceSpan contains spans from a single service/resource.
type ResourceSpan struct {
	Resource   Resource    `json:"resource"`
	ScopeSpans []ScopeSpan `json:"scopeSpans"`
}

// Resource describes the service that produced the spans.
type Resource struct {
	Attributes []Attribute `json:"attributes"`
}

// ScopeSpan groups spans by instrumentation scope.
type ScopeSpan struct {
	Spans []Span `json:"spans"`
}

// Span represents a single trace span.
type Span struct {
	TraceID      string      `json:"traceId"`
	SpanID       string      `json:"spanId"`
	ParentSpanID string      `json:"parentSpanId"`
	Name         string      `json:"name"`
	Kind         int         `json:"kind"` // 1=internal, 2=server, 3=client
	StartTime    string      `json:"startTimeUnixNano"`
	EndTime      string      `json:"endTimeUnixNano"`
	Attributes   []Attribute `json:"attributes"`
	Status       SpanStatus  `json:"status"`
}

// SpanStatus represents the status of a span.
type SpanStatus struct {
	Code int `json:"code"` // 0=unset, 1=ok, 2=error
}

// Attribute is a key-value pair in OTLP format.
type Attribute struct {
	Key   string         `json:"key"`
	Value AttributeValue `json:"value"`
}

// AttributeValue holds the typed value.
type AttributeValue struct {
	StringValue string `json:"stringValue,omitempty"`
	IntValue    string `json:"intValue,omitempty"`
}

// spanInfo holds the function identity extracted from a span.
type spanInfo struct {
	ServiceName string
	Function    string // qualified name, from code attributes or span name
	DurationNs  int64
	IsError     bool
}

// Observation summarizes the runtime activity of one matched function.
type Observation struct {
	FullName     string `json:"full_name"`
	FilePath     string `json:"file_path"`
	Calls        int    `json:"calls"`
	Errors       int    `json:"errors"`
	P99LatencyNs int64  `json:"p99_latency_ns,omitempty"`
}

// IngestResult summarizes what the trace ingestion accomplished.
type IngestResult struct {
	SpansProcessed   int           `json:"spans_processed"`
	FunctionsMatched int           `json:"functions_matched"`
	Unmatched        []string      `json:"unmatched,omitempty"`
	Observations     []Observation `json:"observations"`
}

// Ingest reads an OTLP JSON file and matches its spans against the
// repository's functions.
func Ingest(s *store.Store, repo, filePath string) (*IngestResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read trace file: %w", err)
	}

	var export OTLPExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse OTLP JSON: %w", err)
	}

	result := &IngestResult{}

	var spans []spanInfo
	for _, rs := range export.ResourceSpans {
		serviceName := extractServiceName(rs.Resource)
		for i := range rs.ScopeSpans {
			for j := range rs.ScopeSpans[i].Spans {
				info := extractSpanInfo(&rs.ScopeSpans[i].Spans[j], serviceName)
				if info != nil {
					spans = append(spans, *info)
					result.SpansProcessed++
				}
			}
		}
	}

	slog.Info("traces.ingest", "spans", len(spans))

	matchSpans(s, repo, spans, result)

	return result, nil
}

// extractServiceName gets service.name from resource attributes.
func extractServiceName(r Resource) string {
	for _, attr := range r.Attributes {
		if attr.Key == "service.name" {
			return attr.Value.StringValue
		}
	}
	return ""
}

// extractSpanInfo derives the function identity from code.* attributes,
// falling back to the span name.
func extractSpanInfo(span *Span, serviceName string) *spanInfo {
	info := &spanInfo{
		ServiceName: serviceName,
		IsError:     span.Status.Code == 2,
	}

	var codeFunction, codeNamespace string
	for _, attr := range span.Attributes {
		switch attr.Key {
		case "code.function", "code.function.name":
			codeFunction = attr.Value.StringValue
		case "code.namespace":
			codeNamespace = attr.Value.StringValue
		}
	}

	switch {
	case codeFunction != "" && codeNamespace != "":
		info.Function = codeNamespace + "." + codeFunction
	case codeFunction != "":
		info.Function = codeFunction
	default:
		info.Function = span.Name
	}

	if info.Function == "" {
		return nil
	}

	info.DurationNs = parseDuration(span.StartTime, span.EndTime)
	return info
}

// parseDuration parses nanosecond timestamps and returns duration.
func parseDuration(startNano, endNano string) int64 {
	var start, end int64
	_, _ = fmt.Sscanf(startNano, "%d", &start)
	_, _ = fmt.Sscanf(endNano, "%d", &end)
	if end > start {
		return end - start
	}
	return 0
}

// matchSpans resolves span function names against the stored functions and
// accumulates per-function observations.
func matchSpans(s *store.Store, repo string, spans []spanInfo, result *IngestResult) {
	fns, err := s.AllFunctions(repo)
	if err != nil {
		slog.Warn("traces.functions.err", "err", err)
		return
	}

	byFull := make(map[string]*store.Function, len(fns))
	byName := make(map[string][]*store.Function)
	for _, f := range fns {
		byFull[f.FullName()] = f
		byName[f.Name] = append(byName[f.Name], f)
	}

	type agg struct {
		fn        *store.Function
		calls     int
		errors    int
		latencies []int64
	}
	matched := make(map[string]*agg)
	unmatchedSet := make(map[string]bool)

	for _, span := range spans {
		fn := resolveSpanFunction(span.Function, byFull, byName)
		if fn == nil {
			unmatchedSet[span.Function] = true
			continue
		}
		a, ok := matched[fn.FullName()]
		if !ok {
			a = &agg{fn: fn}
			matched[fn.FullName()] = a
		}
		a.calls++
		if span.IsError {
			a.errors++
		}
		if span.DurationNs > 0 {
			a.latencies = append(a.latencies, span.DurationNs)
		}
	}

	result.FunctionsMatched = len(matched)

	for _, a := range matched {
		obs := Observation{
			FullName: a.fn.FullName(),
			FilePath: a.fn.FilePath,
			Calls:    a.calls,
			Errors:   a.errors,
		}
		if len(a.latencies) > 0 {
			obs.P99LatencyNs = calculateP99(a.latencies)
		}
		result.Observations = append(result.Observations, obs)
	}
	sort.Slice(result.Observations, func(i, j int) bool {
		if result.Observations[i].Calls != result.Observations[j].Calls {
			return result.Observations[i].Calls > result.Observations[j].Calls
		}
		return result.Observations[i].FullName < result.Observations[j].FullName
	})

	for name := range unmatchedSet {
		result.Unmatched = append(result.Unmatched, name)
	}
	sort.Strings(result.Unmatched)
}

// resolveSpanFunction matches a span's function name to a stored function.
// Exact full-name match first, then bare name when unambiguous, then a
// dotted-suffix match.
func resolveSpanFunction(name string, byFull map[string]*store.Function, byName map[string][]*store.Function) *store.Function {
	if f, ok := byFull[name]; ok {
		return f
	}
	if fns, ok := byName[name]; ok && len(fns) == 1 {
		return fns[0]
	}
	if strings.Contains(name, ".") {
		suffix := "." + name
		var hit *store.Function
		for full, f := range byFull {
			if strings.HasSuffix(full, suffix) {
				if hit != nil {
					return nil // ambiguous
				}
				hit = f
			}
		}
		return hit
	}
	return nil
}

// calculateP99 returns the 99th percentile value.
func calculateP99(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
