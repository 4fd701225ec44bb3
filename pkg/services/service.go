package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowdef/pkg/codegen"
	"github.com/dukex/flowdef/pkg/eventbus"
	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/history"
	"github.com/dukex/flowdef/pkg/lock"
	"github.com/dukex/flowdef/pkg/metrics"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/dukex/flowdef/pkg/projects"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LockTTL bounds how long a crashed writer can keep a definition locked.
const LockTTL = 30 * time.Second

// Dependencies are the collaborators shared by every service. Persistence, Codes and Locker are
// required; the rest fall back to permissive or silent defaults.
type Dependencies struct {
	Persistence persistence.Persistence
	Codes       codegen.Generator
	Locker      lock.Locker
	Projects    projects.Oracle
	History     history.Source
	Events      eventbus.EventPublisher
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

type base struct {
	persistence persistence.Persistence
	codes       codegen.Generator
	locker      lock.Locker
	projects    projects.Oracle
	history     history.Source
	events      eventbus.EventPublisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	validator   *graph.Validator
	now         func() time.Time
}

func newBase(deps Dependencies, module string) base {
	b := base{
		persistence: deps.Persistence,
		codes:       deps.Codes,
		locker:      deps.Locker,
		projects:    deps.Projects,
		history:     deps.History,
		events:      deps.Events,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		validator:   graph.NewValidator(),
		now:         func() time.Time { return time.Now().UTC() },
	}

	if b.projects == nil {
		b.projects = projects.Open{}
	}

	if b.history == nil {
		b.history = history.NewStatic()
	}

	if b.tracer == nil {
		b.tracer = otelhelper.NoopTracer()
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	b.logger = b.logger.With("module", module)

	return b
}

// HealthCheck checks the health of the persistence layer.
func (b *base) HealthCheck(ctx context.Context) (string, bool) {
	if b.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := b.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (b *base) repo() persistence.DefinitionRepository {
	return b.persistence.DefinitionRepository()
}

// operation is one traced and measured service call.
type operation struct {
	name    string
	span    trace.Span
	started time.Time
	metrics *metrics.Metrics
}

func (b *base) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *operation) {
	ctx, span := otelhelper.StartSpan(ctx, b.tracer, "flowdef."+name, attrs...)

	return ctx, &operation{name: name, span: span, started: time.Now(), metrics: b.metrics}
}

func (o *operation) end(err error) {
	otelhelper.SetError(o.span, err)
	o.span.End()
	o.metrics.Observe(o.name, outcome(err), time.Since(o.started))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsValidationError(err):
		return metrics.OutcomeValidation
	case IsNotFoundError(err):
		return metrics.OutcomeNotFound
	case IsConflictError(err):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

func lockKey(code int64) string {
	return "definition:" + strconv.FormatInt(code, 10)
}

// withCodeLock runs f while holding the per-code write lock. A held lock surfaces as ErrConflict.
func (b *base) withCodeLock(ctx context.Context, op string, code int64, f func(context.Context) error) error {
	err := b.locker.NonBlockingSynchronized(ctx, lockKey(code), LockTTL, f)
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}

	return mapPersistenceError(op, err)
}

// publish emits event; failures are logged and never fail the committed operation.
func (b *base) publish(ctx context.Context, code int64, event eventbus.Event) {
	if b.events == nil {
		return
	}

	err := b.events.Publish(ctx, strconv.FormatInt(code, 10), event)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "code", code, "error", err)
	}
}

// checkProject fails with ErrUnknownProject when the oracle does not know projectID.
func (b *base) checkProject(ctx context.Context, op, projectID string) error {
	exists, err := b.projects.ProjectExists(ctx, projectID)
	if err != nil {
		return fmt.Errorf("%s: failed to look up project %q: %w", op, projectID, err)
	}

	if !exists {
		return NewValidationError(op, "UNKNOWN_PROJECT", fmt.Sprintf("project %q does not exist", projectID), ErrUnknownProject)
	}

	return nil
}

// checkTenant fails with ErrUnknownTenant when the oracle does not know tenantCode.
func (b *base) checkTenant(ctx context.Context, op, tenantCode string) error {
	exists, err := b.projects.TenantExists(ctx, tenantCode)
	if err != nil {
		return fmt.Errorf("%s: failed to look up tenant %q: %w", op, tenantCode, err)
	}

	if !exists {
		return NewValidationError(op, "UNKNOWN_TENANT", fmt.Sprintf("tenant %q does not exist", tenantCode), ErrUnknownTenant)
	}

	return nil
}

// load fetches a definition, mapping absence to ErrNotFound.
func (b *base) load(ctx context.Context, op string, code int64) (*models.WorkflowDefinition, error) {
	definition, err := b.repo().GetByCode(ctx, code)
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	if definition == nil {
		return nil, notFound(op, code)
	}

	if projectID, ok := projectScope(ctx); ok && definition.ProjectID != projectID {
		return nil, notFound(op, code)
	}

	return definition, nil
}

type projectScopeKey struct{}

// WithProject scopes ctx to one project. Operations running under it report definitions owned by
// any other project as not found. The check happens when the definition is loaded, inside the
// per-code lock for writes.
func WithProject(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectScopeKey{}, projectID)
}

func projectScope(ctx context.Context) (string, bool) {
	projectID, ok := ctx.Value(projectScopeKey{}).(string)

	return projectID, ok
}
