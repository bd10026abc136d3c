package core

import (
	"context"
	"time"
)

// Operation names reported to metrics, traces and audit records.
const (
	OpCreateConcept    = "create_concept"
	OpAddDescription   = "add_description"
	OpAddSemantic      = "add_semantic"
	OpSetLogicGraph    = "set_logic_graph"
	OpEditVersion      = "edit_version"
	OpRetireComponent  = "retire_component"
	OpCommit           = "commit"
	OpCancel           = "cancel"
	OpAddPath          = "add_path"
	OpAddStampAlias    = "add_stamp_alias"
	OpImportChangeSets = "import_change_sets"
	OpTaxonomySnapshot = "taxonomy_snapshot"
	OpCheckTaxonomy    = "check_taxonomy"
	OpQuery            = "query"
)

// auditedOperations change the datastore and are written to the audit trail.
var auditedOperations = map[string]struct{}{
	OpCreateConcept:    {},
	OpAddDescription:   {},
	OpAddSemantic:      {},
	OpSetLogicGraph:    {},
	OpEditVersion:      {},
	OpRetireComponent:  {},
	OpCommit:           {},
	OpCancel:           {},
	OpAddPath:          {},
	OpAddStampAlias:    {},
	OpImportChangeSets: {},
}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan ends a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// AuditStatus is the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating operation.
type AuditEntry struct {
	Operation string        `json:"operation"`
	EntityID  string        `json:"entity_id,omitempty"`
	Status    AuditStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Clock supplies the service's notion of now.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type metricsFanout []MetricsRecorder

func (f metricsFanout) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range f {
		rec.Observe(ctx, operation, success, duration)
	}
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// observe runs fn inside a span and reports its outcome. fn returns the id
// of the entity it touched, used for audit entries.
func (s *Service) observe(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	entity, err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if _, ok := auditedOperations[op]; ok {
		entry := AuditEntry{
			Operation: op,
			EntityID:  entity,
			Status:    AuditStatusSuccess,
			Duration:  elapsed,
			Timestamp: s.clock.Now().UTC(),
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	if err != nil {
		s.logger.Debug("operation failed", "operation", op, "entity", entity, "error", err)
	}
	return err
}
